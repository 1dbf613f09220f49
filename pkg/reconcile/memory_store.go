package reconcile

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventStore keeps webhook records in memory. For tests and single process development.
type MemoryEventStore struct {
	mu      sync.Mutex
	records map[string]*WebhookEvent
}

// NewMemoryEventStore creates an empty store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{records: make(map[string]*WebhookEvent)}
}

func (m *MemoryEventStore) Begin(_ context.Context, rec *WebhookEvent, staleBefore time.Time) (*WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey(rec.Provider, rec.EventID)
	existing, ok := m.records[key]
	if !ok {
		c := rec.Clone()
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.ReceivedAt.IsZero() {
			c.ReceivedAt = c.UpdatedAt
		}
		c.Status = StatusProcessing
		c.Attempts = 1
		c.NextAttemptAt = nil
		m.records[key] = c
		return c.Clone(), nil
	}

	takeover := existing.Status == StatusFailed ||
		(existing.Status == StatusProcessing && existing.UpdatedAt.Before(staleBefore))
	if !takeover {
		return nil, &DuplicateEventError{Provider: rec.Provider, EventID: rec.EventID, Status: existing.Status}
	}

	if len(rec.Payload) > 0 {
		existing.Payload = append([]byte(nil), rec.Payload...)
	}
	existing.Status = StatusProcessing
	existing.Attempts++
	existing.NextAttemptAt = nil
	existing.UpdatedAt = rec.UpdatedAt
	return existing.Clone(), nil
}

func (m *MemoryEventStore) Save(_ context.Context, rec *WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey(rec.Provider, rec.EventID)
	if _, ok := m.records[key]; !ok {
		return ErrEventNotFound
	}
	m.records[key] = rec.Clone()
	return nil
}

func (m *MemoryEventStore) Get(_ context.Context, provider, eventID string) (*WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[eventKey(provider, eventID)]
	if !ok {
		return nil, ErrEventNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryEventStore) ListDue(_ context.Context, now, staleBefore time.Time, limit int) ([]*WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*WebhookEvent
	for _, rec := range m.records {
		if due(rec, now, staleBefore) {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *WebhookEvent) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
