package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryConfig controls RetryWithResult. Delays grow by BackoffFactor per
// attempt and are capped at MaxDelay.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Retryable reports whether err is worth another attempt; nil retries
	// every error.
	Retryable func(error) bool
}

// ErrAttemptsExhausted is matched by every RetryError.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// RetryError is returned when all attempts failed. It unwraps to both
// ErrAttemptsExhausted and the last failure.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrAttemptsExhausted, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() []error { return []error{ErrAttemptsExhausted, e.Err} }

// Retry is RetryWithResult for calls without a result.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// RetryWithResult calls fn until it succeeds, fails with a non-retryable
// error, or runs out of attempts. Backoff waits end early when ctx is done.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		switch {
		case err == nil:
			return v, nil
		case cfg.Retryable != nil && !cfg.Retryable(err):
			return zero, err
		case attempt == attempts-1:
			return zero, &RetryError{Attempts: attempts, Err: err}
		}
		if err := sleepCtx(ctx, CalculateBackoff(attempt, cfg.InitialDelay, cfg.MaxDelay, cfg.BackoffFactor)); err != nil {
			return zero, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CalculateBackoff returns initial*factor^attempt capped at maxDelay. A
// factor below 1 is treated as 1.
func CalculateBackoff(attempt int, initial, maxDelay time.Duration, factor float64) time.Duration {
	d := float64(initial) * math.Pow(math.Max(factor, 1), float64(attempt))
	if maxDelay > 0 {
		d = math.Min(d, float64(maxDelay))
	}
	return time.Duration(d)
}
