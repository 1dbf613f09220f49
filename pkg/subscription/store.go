package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
)

// SubscriptionFilter selects subscriptions for sweeps and listings.
// Zero fields do not filter. Soft-deleted rows are never returned.
type SubscriptionFilter struct {
	TenantID          uuid.UUID
	Statuses          []Status
	TrialEndsBefore   *time.Time // TrialEndsAt <= value
	PeriodEndsBefore  *time.Time // CurrentPeriodEnd <= value
	SuspendedBefore   *time.Time // SuspendedAt <= value
	UsageResetBefore  *time.Time // UsageResetAt is null or < value
	CancelAtPeriodEnd *bool
	GraceEndsBefore   *time.Time // GraceEndsAt <= value
	EndsBefore        *time.Time // EndsAt <= value
	PeriodEndsAfter   *time.Time // CurrentPeriodEnd > value
	// UnpaidSinceSuspension keeps suspended rows with no payment at or after SuspendedAt.
	UnpaidSinceSuspension bool
	// NotRemindedAt drops rows already reminded for their current period
	// or on the UTC day of value.
	NotRemindedAt *time.Time
	Limit         int
}

// InvoiceFilter selects invoices for sweeps and listings.
type InvoiceFilter struct {
	TenantID         uuid.UUID
	SubscriptionID   uuid.UUID
	Statuses         []invoice.Status
	Purpose          invoice.Purpose
	PixExpiresBefore *time.Time // Pix.ExpiresAt <= value
	DueBefore        *time.Time // DueAt <= value
	HasPix           *bool
	Limit            int
}

// Queries are the read operations shared by the store and its transactions.
// Lookups return ErrSubscriptionNotFound or ErrInvoiceNotFound when nothing matches.
type Queries interface {
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// FindCurrentByTenant returns the most recently created subscription of the tenant.
	FindCurrentByTenant(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	FindByGatewaySubscription(ctx context.Context, gatewayID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error)

	GetInvoice(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error)
	FindInvoiceByGatewayCharge(ctx context.Context, chargeID string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*invoice.Invoice, error)
}

// Tx is a store transaction. Writes become visible on commit only.
type Tx interface {
	Queries

	// LockSubscription loads the row and holds it for the rest of the transaction.
	LockSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	InsertSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	InsertInvoice(ctx context.Context, inv *invoice.Invoice) error
	UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error
	// NextInvoiceNumber returns the next sequence value for the year.
	NextInvoiceNumber(ctx context.Context, year int) (int64, error)

	// SetTenantAccess writes the tenant access flag.
	SetTenantAccess(ctx context.Context, tenantID uuid.UUID, active bool, at time.Time) error
	AppendAudit(ctx context.Context, events ...audit.Event) error
}

// Store persists subscriptions, invoices, the tenant access flag and audit entries.
type Store interface {
	Queries
	// WithTx runs fn in a transaction. It commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Matches reports whether sub satisfies the filter.
func (f SubscriptionFilter) Matches(sub *Subscription) bool {
	if sub.IsDeleted() {
		return false
	}
	if f.TenantID != uuid.Nil && sub.TenantID != f.TenantID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, sub.Status) {
		return false
	}
	if f.TrialEndsBefore != nil && (sub.TrialEndsAt == nil || sub.TrialEndsAt.After(*f.TrialEndsBefore)) {
		return false
	}
	if f.PeriodEndsBefore != nil && (sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(*f.PeriodEndsBefore)) {
		return false
	}
	if f.SuspendedBefore != nil && (sub.SuspendedAt == nil || sub.SuspendedAt.After(*f.SuspendedBefore)) {
		return false
	}
	if f.UsageResetBefore != nil && sub.UsageResetAt != nil && !sub.UsageResetAt.Before(*f.UsageResetBefore) {
		return false
	}
	if f.CancelAtPeriodEnd != nil && sub.Metadata.CancelAtPeriodEnd != *f.CancelAtPeriodEnd {
		return false
	}
	if f.GraceEndsBefore != nil {
		end := GraceEndsAt(sub)
		if end.IsZero() || end.After(*f.GraceEndsBefore) {
			return false
		}
	}
	if f.EndsBefore != nil && (sub.EndsAt == nil || sub.EndsAt.After(*f.EndsBefore)) {
		return false
	}
	if f.PeriodEndsAfter != nil && (sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.After(*f.PeriodEndsAfter)) {
		return false
	}
	if f.UnpaidSinceSuspension {
		if sub.SuspendedAt == nil || (sub.LastPaymentAt != nil && !sub.LastPaymentAt.Before(*sub.SuspendedAt)) {
			return false
		}
	}
	if f.NotRemindedAt != nil && sub.CurrentPeriodEnd != nil && RemindedFor(sub, *sub.CurrentPeriodEnd, *f.NotRemindedAt) {
		return false
	}
	return true
}

// Matches reports whether inv satisfies the filter.
func (f InvoiceFilter) Matches(inv *invoice.Invoice) bool {
	if f.TenantID != uuid.Nil && inv.TenantID != f.TenantID {
		return false
	}
	if f.SubscriptionID != uuid.Nil && inv.SubscriptionID != f.SubscriptionID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if inv.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Purpose != "" && inv.Purpose != f.Purpose {
		return false
	}
	if f.PixExpiresBefore != nil && (inv.Pix == nil || inv.Pix.ExpiresAt.After(*f.PixExpiresBefore)) {
		return false
	}
	if f.DueBefore != nil && (inv.DueAt == nil || inv.DueAt.After(*f.DueBefore)) {
		return false
	}
	if f.HasPix != nil && (inv.Pix != nil) != *f.HasPix {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
