package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

// TenantStore reads tenant records and implements tenant.Provider and
// tenant.Directory. The active flag is owned by subscription transactions.
type TenantStore struct {
	pool *pgxpool.Pool
}

var (
	_ tenant.Provider  = (*TenantStore)(nil)
	_ tenant.Directory = (*TenantStore)(nil)
)

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

func (s *TenantStore) GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.pool.QueryRow(ctx, `SELECT id, name, owner_name, owner_email, active, blocked_at, created_at
		FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.OwnerName, &t.OwnerEmail, &t.Active, &t.BlockedAt, &t.CreatedAt)
	if pg.IsNotFoundError(err) {
		return nil, tenant.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	t.BlockedAt = utc(t.BlockedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (s *TenantStore) OwnerContact(ctx context.Context, tenantID uuid.UUID) (tenant.Contact, error) {
	t, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return tenant.Contact{}, err
	}
	return t.Contact(), nil
}

// SaveProfile upserts the name and owner of a tenant and leaves the access
// flag untouched on existing rows.
func (s *TenantStore) SaveProfile(ctx context.Context, t tenant.Tenant) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO tenants (id, name, owner_name, owner_email, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, owner_name = EXCLUDED.owner_name,
			owner_email = EXCLUDED.owner_email, updated_at = NOW()`,
		t.ID, t.Name, t.OwnerName, t.OwnerEmail)
	if err != nil {
		return fmt.Errorf("save tenant %s: %w", t.ID, err)
	}
	return nil
}
