package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "strategy-backtester/internal/errors"
)

var errBoom = errors.New("boom")

func TestCircuitOpensAndRecovers(t *testing.T) {
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("kite", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, func() error { return errBoom }), errBoom)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return errBoom }), errBoom)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.False(t, called)

	clock = clock.Add(time.Minute)
	v, err := ExecuteWithResult(cb, ctx, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, CircuitClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalRejected)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("rest", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	require.Equal(t, CircuitOpen, cb.State())

	clock = clock.Add(2 * time.Second)
	_ = cb.Execute(ctx, func() error { return errBoom })
	assert.Equal(t, CircuitOpen, cb.State())

	// The failed half-open call restarts the open period.
	clock = clock.Add(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), apperrors.ErrCircuitOpen)
}

func TestCancelledCallsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("kite", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	err := cb.Execute(ctx, func() error {
		cancel()
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), context.Canceled)
}
