package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.timeNow = func() time.Time { return current }
	ctx := context.Background()

	if err := store.Set(ctx, "market_data:AAPL:quote", []byte(`{"bid":1}`), 5*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	current = current.Add(4 * time.Second)
	if v, ok, _ := store.Get(ctx, "market_data:AAPL:quote"); !ok || string(v) != `{"bid":1}` {
		t.Errorf("expected hit before expiry, got ok=%v v=%s", ok, v)
	}

	current = current.Add(1 * time.Second)
	if _, ok, _ := store.Get(ctx, "market_data:AAPL:quote"); ok {
		t.Errorf("expected miss at expiry")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.timeNow = func() time.Time { return current }
	ctx := context.Background()

	store.Set(ctx, "a", []byte("1"), time.Second)
	store.Set(ctx, "b", []byte("2"), time.Minute)

	current = current.Add(2 * time.Second)
	if n := store.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, ok, _ := store.Get(ctx, "b"); !ok {
		t.Errorf("long-lived entry was swept")
	}
}
