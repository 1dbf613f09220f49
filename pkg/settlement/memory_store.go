package settlement

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store for tests and development.
type MemoryStore struct {
	mu            sync.RWMutex
	professionals map[uuid.UUID]*Professional
	transactions  map[uuid.UUID]*Transaction
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		professionals: map[uuid.UUID]*Professional{},
		transactions:  map[uuid.UUID]*Transaction{},
	}
}

func (m *MemoryStore) GetProfessional(_ context.Context, tenantID, id uuid.UUID) (*Professional, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pro, ok := m.professionals[id]
	if !ok || pro.TenantID != tenantID {
		return nil, ErrProfessionalNotFound
	}
	return cloneProfessional(pro), nil
}

func (m *MemoryStore) SaveProfessional(_ context.Context, pro *Professional) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.professionals[pro.ID] = cloneProfessional(pro)
	return nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) FindByAppointment(_ context.Context, tenantID, appointmentID uuid.UUID) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.transactions {
		if t.TenantID == tenantID && t.AppointmentID == appointmentID && t.Status != StatusCancelled {
			return t.Clone(), nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *MemoryStore) ListTransactions(_ context.Context, filter Filter) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, t := range m.transactions {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Transaction) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTransactionExists, t.ID)
	}
	m.transactions[t.ID] = t.Clone()
	return nil
}

func (m *MemoryStore) UpdateTransaction(_ context.Context, t *Transaction, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.transactions[t.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	if cur.Status != expected {
		return fmt.Errorf("%w: transaction is %s", ErrInvalidStatus, cur.Status)
	}
	m.transactions[t.ID] = t.Clone()
	return nil
}

func cloneProfessional(p *Professional) *Professional {
	c := *p
	c.ServiceCommissions = maps.Clone(p.ServiceCommissions)
	if c.ServiceCommissions == nil {
		c.ServiceCommissions = map[uuid.UUID]decimal.Decimal{}
	}
	return &c
}
