package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter selects transactions. Zero fields match everything.
type Filter struct {
	TenantID       uuid.UUID
	ProfessionalID uuid.UUID
	Statuses       []Status
	PaidFrom       *time.Time
	PaidTo         *time.Time // exclusive
	Limit          int
}

// Matches reports whether t satisfies the filter.
func (f Filter) Matches(t *Transaction) bool {
	if f.TenantID != uuid.Nil && t.TenantID != f.TenantID {
		return false
	}
	if f.ProfessionalID != uuid.Nil && t.ProfessionalID != f.ProfessionalID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == t.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PaidFrom != nil && (t.PaidAt == nil || t.PaidAt.Before(*f.PaidFrom)) {
		return false
	}
	if f.PaidTo != nil && (t.PaidAt == nil || !t.PaidAt.Before(*f.PaidTo)) {
		return false
	}
	return true
}

// Store persists professionals and payment transactions.
type Store interface {
	GetProfessional(ctx context.Context, tenantID, id uuid.UUID) (*Professional, error)
	SaveProfessional(ctx context.Context, pro *Professional) error

	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	FindByAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Transaction, error)
	ListTransactions(ctx context.Context, filter Filter) ([]*Transaction, error)
	InsertTransaction(ctx context.Context, t *Transaction) error
	// UpdateTransaction replaces the row only while its status is still expected.
	UpdateTransaction(ctx context.Context, t *Transaction, expected Status) error
}
