package subscription

import (
	"slices"
	"time"
)

// MetadataVersion is bumped whenever the Metadata layout changes.
const MetadataVersion = 1

// maxAppliedTriggers bounds the replay window kept per subscription.
const maxAppliedTriggers = 32

// AppliedTrigger records one transition that has already been applied.
type AppliedTrigger struct {
	Event Event     `json:"event"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
}

// Metadata is the structured side data of a subscription.
type Metadata struct {
	Version int `json:"version"`

	LastFailureReason string     `json:"last_failure_reason,omitempty"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty"`

	LastReminderAt    *time.Time `json:"last_reminder_at,omitempty"`
	ReminderPeriodEnd *time.Time `json:"reminder_period_end,omitempty"`

	// BillingAnchorDay is the day of month periods renew on; zero means the day of the period end.
	BillingAnchorDay int `json:"billing_anchor_day,omitempty"`

	CancelReason      string `json:"cancel_reason,omitempty"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end,omitempty"`

	GatewayStatus        string `json:"gateway_status,omitempty"`
	GatewayCancelPending bool   `json:"gateway_cancel_pending,omitempty"`

	AppliedTriggers []AppliedTrigger `json:"applied_triggers,omitempty"`
}

// HasApplied reports whether the (event, key) pair is in the replay window.
func (m *Metadata) HasApplied(event Event, key string) bool {
	for _, t := range m.AppliedTriggers {
		if t.Event == event && t.Key == key {
			return true
		}
	}
	return false
}

func (m *Metadata) remember(event Event, key string, at time.Time) {
	m.AppliedTriggers = append(m.AppliedTriggers, AppliedTrigger{Event: event, Key: key, At: at})
	if n := len(m.AppliedTriggers); n > maxAppliedTriggers {
		m.AppliedTriggers = slices.Clone(m.AppliedTriggers[n-maxAppliedTriggers:])
	}
}

func (m Metadata) clone() Metadata {
	c := m
	c.LastFailureAt = clonePtr(m.LastFailureAt)
	c.LastReminderAt = clonePtr(m.LastReminderAt)
	c.ReminderPeriodEnd = clonePtr(m.ReminderPeriodEnd)
	c.AppliedTriggers = slices.Clone(m.AppliedTriggers)
	return c
}
