// Package resilience provides the circuit breaker that guards external data
// providers and the health monitor behind the refresh daemon.
package resilience

import (
	"context"
	"sync"
	"time"

	apperrors "strategy-backtester/internal/errors"
)

// CircuitState is the position of a CircuitBreaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN" // one trial window after Timeout
)

// CircuitBreakerConfig tunes when a breaker trips and recovers.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // half-open successes needed to close it
	Timeout          time.Duration // open period before a trial call is allowed
}

// DefaultCircuitBreakerConfig trips after five straight failures and tries
// again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, Timeout: 30 * time.Second}
}

// CircuitBreakerStats is a snapshot of a breaker's counters.
type CircuitBreakerStats struct {
	Name            string
	State           CircuitState
	TotalRequests   int64
	TotalFailures   int64
	TotalRejected   int64
	CurrentFailures int
	LastStateChange time.Time
}

// CircuitBreaker stops calling a provider that keeps failing, so a broken
// upstream fails fast instead of burning the retry budget of every request.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	state     CircuitState
	streak    int // consecutive failures while closed
	trials    int // successes while half-open
	openedAt  time.Time
	changedAt time.Time
	requests  int64
	failed    int64
	rejected  int64
}

// NewCircuitBreaker returns a closed breaker. Thresholds below one are
// raised to one.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.SuccessThreshold = max(cfg.SuccessThreshold, 1)
	cb := &CircuitBreaker{name: name, cfg: cfg, now: time.Now, state: CircuitClosed}
	cb.changedAt = cb.now()
	return cb
}

// Execute runs fn unless the circuit is open. Context cancellation is not
// counted as a failure of the guarded service.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(cb, ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult is Execute for calls that return a value.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := cb.admit(); err != nil {
		return zero, err
	}

	v, err := fn()
	if err != nil && ctx.Err() != nil {
		return v, err
	}
	cb.record(err == nil)
	return v, err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.moveTo(CircuitHalfOpen)
		return nil
	}
	cb.rejected++
	return apperrors.Wrapf(apperrors.ErrCircuitOpen, "%s", cb.name)
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		if cb.state == CircuitHalfOpen {
			cb.trials++
			if cb.trials >= cb.cfg.SuccessThreshold {
				cb.moveTo(CircuitClosed)
			}
			return
		}
		cb.streak = 0
		return
	}

	cb.failed++
	cb.openedAt = cb.now()
	if cb.state == CircuitHalfOpen {
		cb.moveTo(CircuitOpen)
		return
	}
	cb.streak++
	if cb.streak >= cb.cfg.FailureThreshold {
		cb.moveTo(CircuitOpen)
	}
}

// moveTo switches state and clears the per-state counters. mu must be held.
func (cb *CircuitBreaker) moveTo(s CircuitState) {
	cb.state = s
	cb.changedAt = cb.now()
	cb.streak, cb.trials = 0, 0
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalRequests:   cb.requests,
		TotalFailures:   cb.failed,
		TotalRejected:   cb.rejected,
		CurrentFailures: cb.streak,
		LastStateChange: cb.changedAt,
	}
}
