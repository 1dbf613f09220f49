package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names a billing alert.
type Kind string

const (
	KindRenewalReminder Kind = "renewal_reminder"
	KindTrialEnded      Kind = "trial_ended"
	KindPaymentFailed   Kind = "payment_failed"
	KindSuspended       Kind = "subscription_suspended"
)

// Notification is one billing alert for the owner of a tenant.
// Amount is in minor units of Currency.
type Notification struct {
	Kind           Kind      `json:"kind"`
	TenantID       uuid.UUID `json:"tenant_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	PlanName       string    `json:"plan_name"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	// DueAt is the renewal date for reminders and the deadline for past due alerts.
	DueAt  time.Time `json:"due_at"`
	Reason string    `json:"reason,omitempty"`
}

// Notifier delivers billing alerts.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
