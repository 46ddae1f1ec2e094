package secretstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes the exponential backoff applied to retryable
// secret store failures. Only unavailable errors retry under this policy;
// expired authentication gets exactly one forced re-login, and everything
// else fails immediately.
type RetryPolicy struct {
	// InitialInterval is the first wait between attempts.
	InitialInterval time.Duration

	// MaxInterval caps the wait between attempts.
	MaxInterval time.Duration

	// MaxElapsedTime bounds the total time spent retrying one call.
	MaxElapsedTime time.Duration

	// Multiplier grows the interval after each attempt.
	Multiplier float64
}

// DefaultRetryPolicy returns the policy used in production. Totals stay
// under typical request deadlines so callers see a classified error, not
// a context timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
		Multiplier:      2.0,
	}
}

// backOff builds the context-aware backoff for one call.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = p.MaxElapsedTime
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	return backoff.WithContext(eb, ctx)
}
