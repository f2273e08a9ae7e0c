package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
)

// Coverage reports the part of [from, to] that bars fail to reach.
type Coverage func(bars []models.Candle, from, to time.Time) (gapFrom, gapTo time.Time, uncovered bool)

// LoadSeries fetches every instrument's bars in parallel. Any missing,
// malformed or short series fails the whole load, so a run never starts on
// partial data. A nil cov skips the coverage check.
func LoadSeries(ctx context.Context, p Provider, instrumentIDs []string, from, to time.Time, interval string, parallelism int, cov Coverage) (map[string][]models.Candle, error) {
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	var mu sync.Mutex
	series := make(map[string][]models.Candle, len(instrumentIDs))
	for _, id := range instrumentIDs {
		g.Go(func() error {
			bars, err := p.GetBars(gctx, id, from, to, interval)
			if err != nil {
				return err
			}
			if len(bars) == 0 {
				return apperrors.NewDataUnavailableError(id, from, to, interval, apperrors.ErrDataNotFound)
			}
			if err := CheckOrdered(bars); err != nil {
				return apperrors.NewDataUnavailableError(id, from, to, interval, err)
			}
			if cov != nil {
				if gapFrom, gapTo, short := cov(bars, from, to); short {
					return apperrors.NewDataUnavailableError(id, gapFrom, gapTo, interval, apperrors.ErrDataNotFound)
				}
			}
			mu.Lock()
			series[id] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

// CheckOrdered verifies that timestamps are strictly increasing.
func CheckOrdered(bars []models.Candle) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar %d at %s is not after %s", i, bars[i].Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
