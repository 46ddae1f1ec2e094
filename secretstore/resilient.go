package secretstore

import (
	"context"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// ResilientStore decorates a secret store with the retry policy and a
// circuit breaker. All production callers go through this wrapper; the raw
// backends stay policy-free so tests can exercise failures directly.
//
// Behavior by error category:
//
//   - store_unavailable: retried with exponential backoff.
//   - auth_expired: one forced re-login, then one retry.
//   - store_sealed: never retried; trips the breaker so subsequent calls
//     fail fast until a cooldown probe sees the store unsealed.
//   - everything else: returned as-is.
type ResilientStore struct {
	store   interfaces.SecretStore
	policy  RetryPolicy
	breaker *breaker
	log     *slog.Logger
}

// NewResilientStore wraps store with retry and circuit breaking.
func NewResilientStore(store interfaces.SecretStore, policy RetryPolicy, log *slog.Logger) *ResilientStore {
	return &ResilientStore{
		store:   store,
		policy:  policy,
		breaker: newBreaker(log),
		log:     log,
	}
}

// Put writes through the retry policy and breaker.
func (r *ResilientStore) Put(ctx context.Context, path string, value []byte) (int, error) {
	const op = "secretstore.put"

	if err := r.breaker.Allow(); err != nil {
		return 0, interfaces.E(op, path, err)
	}

	var version int
	err := r.retry(ctx, func(ctx context.Context) error {
		var callErr error
		version, callErr = r.store.Put(ctx, path, value)
		return callErr
	})
	r.breaker.Record(err)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Get reads through the retry policy and breaker.
func (r *ResilientStore) Get(ctx context.Context, path string, version int) ([]byte, error) {
	const op = "secretstore.get"

	if err := r.breaker.Allow(); err != nil {
		return nil, interfaces.E(op, path, err)
	}

	var value []byte
	err := r.retry(ctx, func(ctx context.Context) error {
		var callErr error
		value, callErr = r.store.Get(ctx, path, version)
		return callErr
	})
	r.breaker.Record(err)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Health delegates to the underlying store. A sealed health report is a
// successful probe, so it does not feed the breaker.
func (r *ResilientStore) Health(ctx context.Context) (interfaces.StoreHealth, error) {
	return r.store.Health(ctx)
}

// Authenticate delegates to the underlying store.
func (r *ResilientStore) Authenticate(ctx context.Context) error {
	return r.store.Authenticate(ctx)
}

// BreakerState exposes the circuit state for metrics and readiness
// reporting.
func (r *ResilientStore) BreakerState() string {
	return r.breaker.State()
}

// retry drives one logical call through the backoff policy. Unavailable
// errors retry until the policy gives up. An expired token triggers a
// single forced re-login; a second expiry in the same call is permanent.
func (r *ResilientStore) retry(ctx context.Context, call func(ctx context.Context) error) error {
	reauthenticated := false

	operation := func() error {
		err := call(ctx)
		if err == nil {
			return nil
		}

		switch interfaces.Category(err) {
		case interfaces.CategoryStoreUnavailable:
			r.log.Debug("Retrying secret store call", "err", err)
			return err
		case interfaces.CategoryAuthExpired:
			if reauthenticated {
				return backoff.Permanent(err)
			}
			reauthenticated = true
			if loginErr := r.store.Authenticate(ctx); loginErr != nil {
				return backoff.Permanent(loginErr)
			}
			r.log.Debug("Re-authenticated with secret store after expired token")
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	return backoff.Retry(operation, r.policy.backOff(ctx))
}
