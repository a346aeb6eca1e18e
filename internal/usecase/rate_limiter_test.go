package usecase

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestLimiter(perMinute map[string]int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(perMinute)
	l.timeNow = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestRateLimiter_SpacesConsecutiveCalls(t *testing.T) {
	limiter, clock := newTestLimiter(map[string]int{ServiceMarketData: 5})
	ctx := context.Background()

	var grants []time.Time
	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(ctx, ServiceMarketData); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		grants = append(grants, clock.Now())
	}

	for i := 1; i < len(grants); i++ {
		if gap := grants[i].Sub(grants[i-1]); gap < 12*time.Second {
			t.Errorf("grant %d came %v after previous, want >= 12s", i, gap)
		}
	}
	if got := limiter.Interval(ServiceMarketData); got != 12*time.Second {
		t.Errorf("Interval() = %v, want 12s", got)
	}
}

func TestRateLimiter_NoWaitAfterIntervalElapsed(t *testing.T) {
	limiter, clock := newTestLimiter(map[string]int{ServiceBroker: 200})
	ctx := context.Background()

	limiter.Acquire(ctx, ServiceBroker)
	clock.now = clock.now.Add(time.Second)
	limiter.Acquire(ctx, ServiceBroker)

	if len(clock.slept) != 0 {
		t.Errorf("expected no sleep, got %v", clock.slept)
	}
}

func TestRateLimiter_UnknownServiceUnthrottled(t *testing.T) {
	limiter, clock := newTestLimiter(map[string]int{ServiceNews: 1000})
	for i := 0; i < 5; i++ {
		limiter.Acquire(context.Background(), "unknown")
	}
	if len(clock.slept) != 0 {
		t.Errorf("unknown service should not sleep, got %v", clock.slept)
	}
}

func TestRateLimiter_ServicesAreIndependent(t *testing.T) {
	limiter, clock := newTestLimiter(map[string]int{ServiceMarketData: 5, ServiceBroker: 5})
	ctx := context.Background()

	limiter.Acquire(ctx, ServiceMarketData)
	limiter.Acquire(ctx, ServiceBroker)

	if len(clock.slept) != 0 {
		t.Errorf("first call per service should be immediate, slept %v", clock.slept)
	}
}

func TestRateLimiter_CancelledWait(t *testing.T) {
	limiter := NewRateLimiter(map[string]int{ServiceMarketData: 1})
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Acquire(ctx, ServiceMarketData); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	cancel()
	if err := limiter.Acquire(ctx, ServiceMarketData); err == nil {
		t.Errorf("expected context error while waiting")
	}
}
