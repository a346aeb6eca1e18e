package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	QuoteTTL      = 5 * time.Second
	ChainTTL      = 300 * time.Second
	VolatilityTTL = 3600 * time.Second
	NewsTTL       = 900 * time.Second
)

func QuoteKey(symbol string) string      { return "market_data:" + symbol + ":quote" }
func VolatilityKey(symbol string) string { return "market_data:" + symbol + ":hv" }
func ChainKey(symbol string) string      { return "options_chain:" + symbol }
func NewsKey(symbol string) string       { return "news_sentiment:" + symbol }

// MarketDataCache shields external quote, chain and news calls behind a TTL store.
type MarketDataCache struct {
	store   domain.CacheStore
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewMarketDataCache(store domain.CacheStore, m *metrics.Metrics, logger *zap.Logger) *MarketDataCache {
	return &MarketDataCache{store: store, metrics: m, logger: logger}
}

func (c *MarketDataCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// GetOrFetch returns the cached value for key, or calls fetch and caches its
// result for ttl. A failed fetch is returned to the caller and never cached.
// A broken cache store degrades to calling fetch directly.
func GetOrFetch[T any](ctx context.Context, c *MarketDataCache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.CacheRequest("error")
		c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	case ok:
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			c.metrics.CacheRequest("hit")
			return v, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	default:
		c.metrics.CacheRequest("miss")
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(v)
		if err == nil {
			err = c.store.Set(ctx, key, encoded, ttl)
		}
		if err != nil {
			c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}
