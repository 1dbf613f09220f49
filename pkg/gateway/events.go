package gateway

import (
	"encoding/json"
	"time"
)

// EventType is the provider-agnostic webhook vocabulary.
type EventType string

const (
	EventSubscriptionCreated   EventType = "subscription.created"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventSubscriptionRenewed   EventType = "subscription.renewed"
	EventPaymentSucceeded      EventType = "payment.succeeded"
	EventPaymentFailed         EventType = "payment.failed"
	EventPaymentRefunded       EventType = "payment.refunded"
	EventInvoicePaid           EventType = "invoice.paid"
	EventInvoicePaymentFailed  EventType = "invoice.payment_failed"
	EventPixReceived           EventType = "pix.received"
	EventPixExpired            EventType = "pix.expired"
)

var knownEventTypes = map[EventType]struct{}{
	EventSubscriptionCreated:   {},
	EventSubscriptionUpdated:   {},
	EventSubscriptionCancelled: {},
	EventSubscriptionRenewed:   {},
	EventPaymentSucceeded:      {},
	EventPaymentFailed:         {},
	EventPaymentRefunded:       {},
	EventInvoicePaid:           {},
	EventInvoicePaymentFailed:  {},
	EventPixReceived:           {},
	EventPixExpired:            {},
}

// Valid reports whether the type belongs to the normalized vocabulary.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Event is a normalized webhook event.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Provider   string          `json:"provider"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       EventData       `json:"data"`
	Raw        json.RawMessage `json:"-"`
}

// EventData carries the gateway identifiers and amounts an event refers to.
// Only the fields relevant to the event type are set.
type EventData struct {
	SubscriptionID string            `json:"subscription_id,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	ChargeID       string            `json:"charge_id,omitempty"`
	InvoiceID      string            `json:"invoice_id,omitempty"`
	Status         string            `json:"status,omitempty"`
	Amount         int64             `json:"amount,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	PeriodEnd      *time.Time        `json:"period_end,omitempty"`
	CancelAtPeriod bool              `json:"cancel_at_period_end,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TenantHint returns the internal tenant id the gateway echoed back, if any.
// It is a hint only: callers must confirm it against the resolved gateway record.
func (e *Event) TenantHint() string {
	return e.Data.Metadata[MetaTenantID]
}

// SubscriptionHint returns the internal subscription id the gateway echoed back, if any.
func (e *Event) SubscriptionHint() string {
	return e.Data.Metadata[MetaSubscriptionID]
}

// InvoiceHint returns the internal invoice id the gateway echoed back, if any.
func (e *Event) InvoiceHint() string {
	return e.Data.Metadata[MetaInvoiceID]
}
