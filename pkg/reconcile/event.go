package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Status is the durable processing state of a webhook delivery.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusSkipped    Status = "skipped"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// Final reports whether the record is never picked up again.
func (s Status) Final() bool {
	switch s {
	case StatusProcessed, StatusSkipped, StatusRejected, StatusDead:
		return true
	}
	return false
}

// WebhookEvent is the stored record of one gateway delivery, keyed by (Provider, EventID).
// Payload keeps the verified raw body so failed events can be retried later.
type WebhookEvent struct {
	ID             uuid.UUID  `json:"id"`
	Provider       string     `json:"provider"`
	EventID        string     `json:"event_id"`
	Type           string     `json:"type"`
	Status         Status     `json:"status"`
	Payload        []byte     `json:"payload"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	TenantID       uuid.UUID  `json:"tenant_id,omitempty"`
	SubscriptionID uuid.UUID  `json:"subscription_id,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep copy.
func (e *WebhookEvent) Clone() *WebhookEvent {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.NextAttemptAt != nil {
		t := *e.NextAttemptAt
		c.NextAttemptAt = &t
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// Outcome is what HandleWebhook did with a delivery.
type Outcome string

const (
	OutcomeProcessed  Outcome = "processed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeRejected   Outcome = "rejected"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
	OutcomeWouldRetry Outcome = "would_retry"
)

// Result describes one handled delivery.
type Result struct {
	Provider       string              `json:"provider"`
	EventID        string              `json:"event_id,omitempty"`
	Type           string              `json:"type,omitempty"`
	Outcome        Outcome             `json:"outcome"`
	TenantID       uuid.UUID           `json:"tenant_id,omitempty"`
	SubscriptionID uuid.UUID           `json:"subscription_id,omitempty"`
	From           subscription.Status `json:"from,omitempty"`
	To             subscription.Status `json:"to,omitempty"`
	Applied        bool                `json:"applied"`
	Reason         string              `json:"reason,omitempty"`
	Attempts       int                 `json:"attempts,omitempty"`
	NextAttemptAt  *time.Time          `json:"next_attempt_at,omitempty"`
}
