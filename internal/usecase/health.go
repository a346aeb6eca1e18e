package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type apiHealthChecker interface {
	CheckAPIHealth(ctx context.Context) error
}

type ComponentStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type HealthReport struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentStatus `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// HealthChecker probes the store, the cache and the market data API.
type HealthChecker struct {
	store  pinger
	cache  pinger
	market apiHealthChecker
	logger *zap.Logger

	mu   sync.RWMutex
	last *HealthReport

	timeNow func() time.Time // For testing
}

func NewHealthChecker(store, cache pinger, market apiHealthChecker, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{store: store, cache: cache, market: market, logger: logger, timeNow: time.Now}
}

// Check runs every probe and keeps the report for Last. It only returns
// an error when ctx is done; unhealthy components are logged.
func (h *HealthChecker) Check(ctx context.Context) error {
	report := &HealthReport{Healthy: true, Components: make(map[string]ComponentStatus), CheckedAt: h.timeNow()}

	probe := func(name string, fn func(context.Context) error) {
		if fn == nil {
			return
		}
		status := ComponentStatus{Healthy: true}
		if err := fn(ctx); err != nil {
			status = ComponentStatus{Healthy: false, Error: err.Error()}
			report.Healthy = false
			h.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
		}
		report.Components[name] = status
	}

	if h.store != nil {
		probe("database", h.store.Ping)
	}
	if h.cache != nil {
		probe("cache", h.cache.Ping)
	}
	if h.market != nil {
		probe("market_data", h.market.CheckAPIHealth)
	}

	h.mu.Lock()
	h.last = report
	h.mu.Unlock()

	if report.Healthy {
		h.logger.Debug("Health check passed")
	}
	return ctx.Err()
}

// Last returns the most recent report, running a check first if there is none.
func (h *HealthChecker) Last(ctx context.Context) *HealthReport {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()
	if last != nil {
		return last
	}
	h.Check(ctx)
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}
