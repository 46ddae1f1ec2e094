package secretstore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

const (
	// defaultFailureThreshold is how many consecutive unavailable
	// failures open the circuit. A sealed store opens it immediately.
	defaultFailureThreshold = 5

	// defaultBreakerCooldown is how long the circuit stays open before a
	// single probe call is let through.
	defaultBreakerCooldown = 30 * time.Second
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker tracks consecutive store failures and fails fast while open:
//
//   - A sealed store opens the circuit on the first failure. Unsealing is
//     an operator action, so hammering the store helps nobody.
//   - Consecutive unavailable failures open it after the threshold.
//   - While open, calls fail fast with the sentinel that tripped it.
//   - After the cooldown one probe call passes through; its outcome
//     closes or reopens the circuit.
type breaker struct {
	mu               sync.Mutex
	state            circuitState
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	cause            error
	now              func() time.Time
	log              *slog.Logger
}

func newBreaker(log *slog.Logger) *breaker {
	return &breaker{
		state:            circuitClosed,
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultBreakerCooldown,
		now:              time.Now,
		log:              log,
	}
}

// Allow reports whether a call may proceed. While the circuit is open it
// returns the sentinel that tripped it, wrapped so callers classify the
// failure exactly as if the store had answered.
func (b *breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed:
		return nil
	case circuitOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = circuitHalfOpen
			b.log.Debug("Circuit breaker probing store")
			return nil
		}
		return fmt.Errorf("%w: circuit breaker open", b.cause)
	case circuitHalfOpen:
		// A probe is already in flight.
		return fmt.Errorf("%w: circuit breaker open", b.cause)
	default:
		return nil
	}
}

// Record feeds a call outcome into the breaker. Only sealed and
// unavailable outcomes count as failures; a not-found answer means the
// store responded and resets the failure streak.
func (b *breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.recordSuccess()
		return
	}

	switch interfaces.Category(err) {
	case interfaces.CategoryStoreSealed:
		b.open(interfaces.ErrStoreSealed)
	case interfaces.CategoryStoreUnavailable:
		b.failureCount++
		if b.state == circuitHalfOpen || b.failureCount >= b.failureThreshold {
			b.open(interfaces.ErrStoreUnavailable)
		}
	default:
		b.recordSuccess()
	}
}

// State returns the current circuit state for metrics and diagnostics.
func (b *breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// recordSuccess closes the circuit. Callers hold b.mu.
func (b *breaker) recordSuccess() {
	if b.state != circuitClosed {
		b.log.Info("Circuit breaker closed, store recovered")
	}
	b.state = circuitClosed
	b.failureCount = 0
	b.cause = nil
}

// open trips the circuit. Callers hold b.mu.
func (b *breaker) open(cause error) {
	if b.state != circuitOpen {
		b.log.Warn("Circuit breaker opened",
			"err", cause,
			slog.Duration("cooldown", b.cooldown))
	}
	b.state = circuitOpen
	b.openedAt = b.now()
	b.cause = cause
	b.failureCount = 0
}
