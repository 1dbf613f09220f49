package audit

import (
	"context"
	"sync"
)

// MemoryStorage keeps events in memory. Used in tests and local development.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Store(_ context.Context, events ...Event) error {
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryStorage) Query(_ context.Context, c Criteria) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	skipped := 0
	for _, e := range m.events {
		if !c.Matches(e) {
			continue
		}
		if skipped < c.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if c.Limit > 0 && len(out) == c.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStorage) Count(_ context.Context, c Criteria) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, e := range m.events {
		if c.Matches(e) {
			n++
		}
	}
	return n, nil
}

// Events returns a copy of everything stored.
func (m *MemoryStorage) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}
