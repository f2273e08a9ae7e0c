package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/logging"
	"strategy-backtester/internal/models"
	"strategy-backtester/internal/resilience"
	"strategy-backtester/pkg/utils"
)

// RetryingProvider guards an external provider with a rate limiter, a circuit
// breaker and bounded exponential backoff. Final failures surface as
// *errors.DataUnavailableError.
type RetryingProvider struct {
	inner   Provider
	retry   utils.RetryConfig
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// RetryingOptions configures a RetryingProvider.
type RetryingOptions struct {
	Retry   utils.RetryConfig
	Rate    float64 // requests per second, 0 disables limiting
	Burst   int
	Breaker resilience.CircuitBreakerConfig
	Name    string
}

// NewRetryingProvider wraps inner.
func NewRetryingProvider(inner Provider, opts RetryingOptions, logger zerolog.Logger) *RetryingProvider {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.Name == "" {
		opts.Name = "provider"
	}
	retry := opts.Retry
	if retry.Retryable == nil {
		retry.Retryable = retryable
	}
	return &RetryingProvider{
		inner:   inner,
		retry:   retry,
		limiter: rate.NewLimiter(limit, opts.Burst),
		breaker: resilience.NewCircuitBreaker(opts.Name, opts.Breaker),
		logger:  logger.With().Str("component", "provider").Str("provider", opts.Name).Logger(),
	}
}

// retryable skips errors another attempt cannot fix.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, apperrors.ErrCircuitOpen), errors.Is(err, apperrors.ErrDataNotFound):
		return false
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrNotTradable):
		return false
	}
	return true
}

// GetBars implements Provider.
func (p *RetryingProvider) GetBars(ctx context.Context, instrumentID string, from, to time.Time, interval string) ([]models.Candle, error) {
	attempt := 0
	candles, err := utils.RetryWithResult(ctx, p.retry, func() ([]models.Candle, error) {
		attempt++
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		bars, err := resilience.ExecuteWithResult(p.breaker, ctx, func() ([]models.Candle, error) {
			return p.inner.GetBars(ctx, instrumentID, from, to, interval)
		})
		logging.LogAPICall(p.logger, "GetBars", instrumentID, time.Since(start), err)
		if err != nil {
			p.logger.Debug().Err(err).Int("attempt", attempt).Str("instrument", instrumentID).Msg("Bar fetch failed")
		}
		return bars, err
	})
	if err == nil {
		return candles, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	due := apperrors.NewDataUnavailableError(instrumentID, from, to, interval, err)
	due.Attempts = attempt
	p.logger.Warn().Err(err).Str("instrument", instrumentID).Int("attempts", attempt).Msg("Historical data unavailable")
	return nil, due
}

// BreakerState exposes the circuit state for status output.
func (p *RetryingProvider) BreakerState() resilience.CircuitState {
	return p.breaker.State()
}
