package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tenant is a business account. The billing engine writes only the access
// flag, and only inside a subscription transaction.
type Tenant struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	OwnerName  string     `json:"owner_name"`
	OwnerEmail string     `json:"owner_email"`
	Active     bool       `json:"active"`
	BlockedAt  *time.Time `json:"blocked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Contact is who receives billing mail and becomes the gateway customer.
type Contact struct {
	TenantID uuid.UUID
	Name     string
	Email    string
}

// Contact returns the owner contact of the tenant.
func (t *Tenant) Contact() Contact {
	return Contact{TenantID: t.ID, Name: t.OwnerName, Email: t.OwnerEmail}
}

// Provider loads tenant records.
// Returns ErrTenantNotFound if no tenant matches the id.
type Provider interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
}

// Directory resolves the owner contact of a tenant.
type Directory interface {
	OwnerContact(ctx context.Context, tenantID uuid.UUID) (Contact, error)
}

// ProviderDirectory adapts a Provider into a Directory.
type ProviderDirectory struct {
	Provider Provider
}

func (d ProviderDirectory) OwnerContact(ctx context.Context, tenantID uuid.UUID) (Contact, error) {
	t, err := d.Provider.GetTenant(ctx, tenantID)
	if err != nil {
		return Contact{}, err
	}
	return t.Contact(), nil
}
