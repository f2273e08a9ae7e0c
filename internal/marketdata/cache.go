package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"strategy-backtester/internal/models"
)

// BarCache memoizes bar series per instrument, window and interval. Cached
// slices are shared between runs and must be treated as read-only.
type BarCache struct {
	inner Provider
	cache *cache.Cache
	group singleflight.Group
}

// NewBarCache wraps inner with a cache whose entries live for ttl.
func NewBarCache(inner Provider, ttl time.Duration) *BarCache {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &BarCache{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

// CacheKey is the key a series is cached under.
func CacheKey(instrumentID string, from, to time.Time, interval string) string {
	return fmt.Sprintf("%s|%s|%s|%s", instrumentID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), interval)
}

// GetBars implements Provider. Concurrent misses for the same key share one
// upstream call.
func (c *BarCache) GetBars(ctx context.Context, instrumentID string, from, to time.Time, interval string) ([]models.Candle, error) {
	key := CacheKey(instrumentID, from, to, interval)
	if v, ok := c.cache.Get(key); ok {
		return v.([]models.Candle), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		bars, err := c.inner.GetBars(ctx, instrumentID, from, to, interval)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, bars)
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Candle), nil
}

// Len returns the number of cached series.
func (c *BarCache) Len() int {
	return c.cache.ItemCount()
}

// Flush drops every cached series.
func (c *BarCache) Flush() {
	c.cache.Flush()
}
