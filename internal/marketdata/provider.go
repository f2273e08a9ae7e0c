// Package marketdata supplies historical bars to the simulator: providers,
// retry and rate limiting, a shared cache, and parallel series loading.
package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
)

// Provider returns bars for one instrument in ascending time order.
type Provider interface {
	GetBars(ctx context.Context, instrumentID string, from, to time.Time, interval string) ([]models.Candle, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, instrumentID string, from, to time.Time, interval string) ([]models.Candle, error)

func (f ProviderFunc) GetBars(ctx context.Context, instrumentID string, from, to time.Time, interval string) ([]models.Candle, error) {
	return f(ctx, instrumentID, from, to, interval)
}

// CandleStore is the persistence surface the store-backed provider reads.
type CandleStore interface {
	GetCandles(ctx context.Context, instrumentID, interval string, from, to time.Time) ([]models.Candle, error)
}

// StoreProvider serves bars previously imported into the local store.
type StoreProvider struct {
	store  CandleStore
	logger zerolog.Logger
}

// NewStoreProvider creates a provider backed by the local store.
func NewStoreProvider(store CandleStore, logger zerolog.Logger) *StoreProvider {
	return &StoreProvider{
		store:  store,
		logger: logger.With().Str("component", "store_provider").Logger(),
	}
}

// GetBars implements Provider. An empty window is reported as not found so
// it is not retried.
func (p *StoreProvider) GetBars(ctx context.Context, instrumentID string, from, to time.Time, interval string) ([]models.Candle, error) {
	candles, err := p.store.GetCandles(ctx, instrumentID, interval, from, to)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseError, err.Error())
	}
	if len(candles) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "no %s bars for %s", interval, instrumentID)
	}
	p.logger.Debug().Str("instrument", instrumentID).Int("bars", len(candles)).Msg("Loaded bars from store")
	return candles, nil
}
