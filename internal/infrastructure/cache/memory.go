package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value  []byte
	expiry time.Time
}

// MemoryStore is a process-local TTL store. Expired entries are dropped on read and by Sweep.
type MemoryStore struct {
	entries map[string]memoryEntry
	mu      sync.Mutex
	timeNow func() time.Time // For testing
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		timeNow: time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.timeNow().Before(e.expiry) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, expiry: m.timeNow().Add(ttl)}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Sweep removes every expired entry and reports how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeNow()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expiry) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}
