package audit

import (
	"encoding/json"
	"time"
)

// EventOption applies configuration to an Event during creation.
type EventOption func(*Event)

// WithEntity sets the entity type and ID
func WithEntity(entityType, id string) EventOption {
	return func(e *Event) {
		e.EntityType = entityType
		e.EntityID = id
	}
}

// WithTenant sets the tenant the change belongs to.
func WithTenant(tenantID string) EventOption {
	return func(e *Event) {
		e.TenantID = tenantID
	}
}

// WithBefore stores a JSON snapshot of the entity before the change.
// Values that fail to encode are recorded under metadata key "before_error".
func WithBefore(v any) EventOption {
	return func(e *Event) {
		e.Before = snapshot(e, "before_error", v)
	}
}

// WithAfter stores a JSON snapshot of the entity after the change.
func WithAfter(v any) EventOption {
	return func(e *Event) {
		e.After = snapshot(e, "after_error", v)
	}
}

// WithActor sets who caused the change: a user id, "system" or a gateway name.
func WithActor(actor string) EventOption {
	return func(e *Event) {
		e.Actor = actor
	}
}

// WithSource sets the entry point of the change.
func WithSource(source Source) EventOption {
	return func(e *Event) {
		e.Source = source
	}
}

// WithMetadata adds metadata to the event
func WithMetadata(key string, value any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// WithError marks the event as failed with err.
func WithError(err error) EventOption {
	return func(e *Event) {
		if err == nil {
			return
		}
		e.Result = ResultError
		e.Error = err.Error()
	}
}

// WithResult sets the event result
func WithResult(result Result) EventOption {
	return func(e *Event) {
		e.Result = result
	}
}

// WithTime overrides the creation time, for callers with an injected clock.
func WithTime(t time.Time) EventOption {
	return func(e *Event) {
		if !t.IsZero() {
			e.CreatedAt = t.UTC()
		}
	}
}

func snapshot(e *Event, errKey string, v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[errKey] = err.Error()
		return nil
	}
	return b
}
