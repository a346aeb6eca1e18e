package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Service names used for rate limiting external calls.
const (
	ServiceBroker     = "alpaca"
	ServiceMarketData = "polygon"
	ServiceNews       = "news"
)

// RateLimiter spaces calls per external service so that consecutive grants are at
// least 60/limit seconds apart. State is process-local.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex

	// For testing
	timeNow func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter takes calls-per-minute by service name. Services without a
// positive limit are not throttled.
func NewRateLimiter(perMinute map[string]int) *RateLimiter {
	l := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		timeNow:  time.Now,
		sleep:    sleepCtx,
	}
	for service, limit := range perMinute {
		if limit <= 0 {
			continue
		}
		l.limiters[service] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), 1)
	}
	return l
}

// Interval is the minimum spacing enforced for service, zero when unthrottled.
func (l *RateLimiter) Interval(service string) time.Duration {
	l.mu.Lock()
	lim := l.limiters[service]
	l.mu.Unlock()
	if lim == nil || lim.Limit() == 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(lim.Limit()))
}

// Acquire blocks until the caller may hit service. Callers are served in call order.
func (l *RateLimiter) Acquire(ctx context.Context, service string) error {
	l.mu.Lock()
	lim := l.limiters[service]
	l.mu.Unlock()
	if lim == nil {
		return nil
	}

	now := l.timeNow()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter for %s cannot grant a token", service)
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := l.sleep(ctx, delay); err != nil {
		r.CancelAt(l.timeNow())
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
