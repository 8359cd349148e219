package idempotency

import (
	"context"
	"sync"
	"time"
)

// Memory keeps processed ids in a map. A zero TTL keeps them forever;
// otherwise expired ids are swept out by MarkProcessed at most once per TTL.
type Memory struct {
	mu        sync.RWMutex
	seen      map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		seen: map[string]time.Time{},
		ttl:  ttl,
		now:  time.Now,
	}
}

func (m *Memory) HasProcessed(_ context.Context, orderID string) (bool, error) {
	m.mu.RLock()
	at, ok := m.seen[orderID]
	m.mu.RUnlock()
	return ok && !m.expired(at, m.now()), nil
}

func (m *Memory) MarkProcessed(_ context.Context, orderID string) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[orderID] = now
	if m.ttl > 0 && now.Sub(m.lastSweep) >= m.ttl {
		m.sweep(now)
	}
	return nil
}

// Prune drops every expired id and returns how many were removed.
func (m *Memory) Prune(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweep(m.now()), nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.seen)
}

// sweep must be called with mu held.
func (m *Memory) sweep(now time.Time) int {
	m.lastSweep = now
	if m.ttl <= 0 {
		return 0
	}
	n := 0
	for id, at := range m.seen {
		if m.expired(at, now) {
			delete(m.seen, id)
			n++
		}
	}
	return n
}

func (m *Memory) expired(at, now time.Time) bool {
	return m.ttl > 0 && now.Sub(at) >= m.ttl
}
