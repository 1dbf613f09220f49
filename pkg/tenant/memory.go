package tenant

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider is an in-memory tenant source for tests and local development.
type MemoryProvider struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]Tenant
}

// NewMemoryProvider creates a provider seeded with tenants.
func NewMemoryProvider(tenants ...Tenant) *MemoryProvider {
	p := &MemoryProvider{tenants: make(map[uuid.UUID]Tenant, len(tenants))}
	for _, t := range tenants {
		p.tenants[t.ID] = t
	}
	return p
}

// Put inserts or replaces a tenant.
func (p *MemoryProvider) Put(t Tenant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenants[t.ID] = t
}

func (p *MemoryProvider) GetTenant(_ context.Context, id uuid.UUID) (*Tenant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

func (p *MemoryProvider) OwnerContact(ctx context.Context, tenantID uuid.UUID) (Contact, error) {
	t, err := p.GetTenant(ctx, tenantID)
	if err != nil {
		return Contact{}, err
	}
	return t.Contact(), nil
}
