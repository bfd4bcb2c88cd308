package statestore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and demo mode. Expiry is
// evaluated lazily on access against an injectable clock.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]memoryValue
	counters map[string]memoryCounter
	sets     map[string]memorySet
	now      func() time.Time
}

type memoryValue struct {
	value     string
	expiresAt time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]memoryValue),
		counters: make(map[string]memoryCounter),
		sets:     make(map[string]memorySet),
		now:      time.Now,
	}
}

// WithClock overrides the store's clock. Test hook for TTL behavior.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.values[key]; ok && m.now().Before(v.expiresAt) {
		return false, nil
	}
	m.values[key] = memoryValue{value: value, expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !m.now().Before(c.expiresAt) {
		c = memoryCounter{}
	}
	c.count++
	c.expiresAt = m.now().Add(ttl)
	m.counters[key] = c
	return c.count, nil
}

func (m *MemoryStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sets[key]
	if !ok || !m.now().Before(s.expiresAt) {
		s = memorySet{members: make(map[string]struct{})}
	}
	_, exists := s.members[member]
	s.members[member] = struct{}{}
	s.expiresAt = m.now().Add(ttl)
	m.sets[key] = s
	return !exists, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
