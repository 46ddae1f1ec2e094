package secretstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  250 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func TestResilientStoreRetriesUnavailable(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := NewResilientStore(mem, testRetryPolicy(), testLogger())

	_, err := store.Put(ctx, "surveys/s1/kek", []byte("wrapped"))
	require.NoError(t, err)

	// Two transient failures, then the store answers.
	mem.FailNext(2, interfaces.ErrStoreUnavailable)

	value, err := store.Get(ctx, "surveys/s1/kek", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("wrapped"), value)
	require.Equal(t, "closed", store.BreakerState())
}

func TestResilientStoreGivesUpAfterPolicy(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := NewResilientStore(mem, testRetryPolicy(), testLogger())

	mem.FailNext(1000, interfaces.ErrStoreUnavailable)

	_, err := store.Get(ctx, "surveys/s1/kek", 0)
	require.Error(t, err)
	require.Equal(t, interfaces.CategoryStoreUnavailable, interfaces.Category(err))
}

func TestResilientStoreReauthenticatesOnce(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := NewResilientStore(mem, testRetryPolicy(), testLogger())

	_, err := store.Put(ctx, "surveys/s1/kek", []byte("wrapped"))
	require.NoError(t, err)

	// One expired-token answer resolves with a forced re-login.
	mem.FailNext(1, interfaces.ErrAuthExpired)

	value, err := store.Get(ctx, "surveys/s1/kek", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("wrapped"), value)
	require.Equal(t, 1, mem.AuthCount())

	// A second expiry within the same call is not retried again.
	mem.FailNext(2, interfaces.ErrAuthExpired)

	_, err = store.Get(ctx, "surveys/s1/kek", 0)
	require.Error(t, err)
	require.Equal(t, interfaces.CategoryAuthExpired, interfaces.Category(err))
	require.Equal(t, 2, mem.AuthCount())
}

func TestResilientStoreSealedTripsBreaker(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := NewResilientStore(mem, testRetryPolicy(), testLogger())

	_, err := store.Put(ctx, "surveys/s1/kek", []byte("wrapped"))
	require.NoError(t, err)

	mem.SetSealed(true)

	_, err = store.Get(ctx, "surveys/s1/kek", 0)
	require.ErrorIs(t, err, interfaces.ErrStoreSealed)
	require.Equal(t, "open", store.BreakerState())

	// Unsealing alone does not close the circuit: before the cooldown the
	// call fails fast without touching the store.
	mem.SetSealed(false)

	_, err = store.Get(ctx, "surveys/s1/kek", 0)
	require.ErrorIs(t, err, interfaces.ErrStoreSealed)
	require.Equal(t, "open", store.BreakerState())

	// After the cooldown one probe goes through and closes the circuit.
	store.breaker.cooldown = 0

	value, err := store.Get(ctx, "surveys/s1/kek", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("wrapped"), value)
	require.Equal(t, "closed", store.BreakerState())
}

func TestResilientStoreOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := NewResilientStore(mem, testRetryPolicy(), testLogger())
	store.breaker.failureThreshold = 2

	mem.FailNext(1000, interfaces.ErrStoreUnavailable)

	_, err := store.Get(ctx, "surveys/s1/kek", 0)
	require.Error(t, err)
	require.Equal(t, "closed", store.BreakerState())

	_, err = store.Get(ctx, "surveys/s1/kek", 0)
	require.Error(t, err)
	require.Equal(t, "open", store.BreakerState())

	// Fail-fast while open, still classified as unavailable.
	_, err = store.Get(ctx, "surveys/s1/kek", 0)
	require.ErrorIs(t, err, interfaces.ErrStoreUnavailable)

	// Probe after cooldown closes the circuit once the store recovers.
	mem.FailNext(0, nil)
	store.breaker.cooldown = 0

	_, err = store.Put(ctx, "surveys/s1/kek", []byte("wrapped"))
	require.NoError(t, err)
	require.Equal(t, "closed", store.BreakerState())
}

func TestResilientStorePassesThroughNotFound(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := NewResilientStore(mem, testRetryPolicy(), testLogger())

	// Not-found answers immediately, with no retries and no breaker
	// movement.
	start := time.Now()
	_, err := store.Get(ctx, "surveys/missing/kek", 0)
	require.ErrorIs(t, err, interfaces.ErrSecretNotFound)
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, "closed", store.BreakerState())
}
