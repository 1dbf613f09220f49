package subscription

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Subscription represents a tenant's billing relationship.
// At most one non-terminal subscription exists per tenant.
type Subscription struct {
	ID       uuid.UUID    `json:"id"`
	TenantID uuid.UUID    `json:"tenant_id"`
	PlanID   string       `json:"plan_id"`
	Plan     PlanSnapshot `json:"plan"`
	Status   Status       `json:"status"`

	BillingCycle  BillingCycle  `json:"billing_cycle"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	Amount        Money         `json:"amount"`

	StartedAt          time.Time  `json:"started_at"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	NextBillingAt      *time.Time `json:"next_billing_at,omitempty"`
	LastPaymentAt      *time.Time `json:"last_payment_at,omitempty"`
	SuspendedAt        *time.Time `json:"suspended_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty"`

	GracePeriodDays int `json:"grace_period_days"`

	GatewayCustomerID     string `json:"gateway_customer_id,omitempty"`
	GatewaySubscriptionID string `json:"gateway_subscription_id,omitempty"`

	Usage        map[Resource]int64 `json:"usage,omitempty"`
	UsageResetAt *time.Time         `json:"usage_reset_at,omitempty"`

	Metadata Metadata `json:"metadata"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the subscription reached cancelled or expired.
func (s *Subscription) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// IsDeleted reports whether the record was soft-deleted.
func (s *Subscription) IsDeleted() bool {
	return s.DeletedAt != nil
}

// SoftDelete marks the record erased. The row is kept.
func (s *Subscription) SoftDelete(now time.Time) {
	if s.DeletedAt == nil {
		s.DeletedAt = &now
		s.UpdatedAt = now
	}
}

// TrialDaysRemaining returns the number of whole days left in the trial at now.
func (s *Subscription) TrialDaysRemaining(now time.Time) int {
	if s.Status != StatusTrial || s.TrialEndsAt == nil {
		return 0
	}
	remaining := s.TrialEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours() / 24)
}

// UsageOf returns the counter for a resource.
func (s *Subscription) UsageOf(res Resource) int64 {
	return s.Usage[res]
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.Plan = s.Plan.clone()
	c.TrialEndsAt = clonePtr(s.TrialEndsAt)
	c.CurrentPeriodStart = clonePtr(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = clonePtr(s.CurrentPeriodEnd)
	c.NextBillingAt = clonePtr(s.NextBillingAt)
	c.LastPaymentAt = clonePtr(s.LastPaymentAt)
	c.SuspendedAt = clonePtr(s.SuspendedAt)
	c.CancelledAt = clonePtr(s.CancelledAt)
	c.EndsAt = clonePtr(s.EndsAt)
	c.UsageResetAt = clonePtr(s.UsageResetAt)
	c.DeletedAt = clonePtr(s.DeletedAt)
	c.Usage = maps.Clone(s.Usage)
	c.Metadata = s.Metadata.clone()
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
