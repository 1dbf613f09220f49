package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultError   Result = "error"
)

// Source identifies which entry point caused a change.
type Source string

const (
	SourceAPI       Source = "api"
	SourceWebhook   Source = "webhook"
	SourceScheduler Source = "scheduler"
	SourceSystem    Source = "system"
)

// Event is a single append-only audit entry.
// Before and After hold JSON snapshots of the entity around the change.
type Event struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	Source     Source          `json:"source,omitempty"`
	Result     Result          `json:"result"`
	Error      string          `json:"error,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewEvent builds a successful event for action.
// Options run in order; WithError switches the result to ResultError.
func NewEvent(action string, opts ...EventOption) Event {
	e := Event{
		ID:        uuid.New().String(),
		Action:    action,
		Result:    ResultSuccess,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Validate checks if the event has all required fields
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrEventValidation)
	}
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrEventValidation)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrEventValidation)
	}
	return nil
}
