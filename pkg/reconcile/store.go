package reconcile

import (
	"context"
	"time"
)

// EventStore persists webhook deliveries. It is the durable half of deduplication.
type EventStore interface {
	// Begin claims rec for processing, stamped with rec.UpdatedAt.
	// An absent record is inserted with Attempts 1. A failed record, or a
	// processing record last touched before staleBefore, is taken over and
	// its Attempts incremented. Any other existing record yields *DuplicateEventError.
	Begin(ctx context.Context, rec *WebhookEvent, staleBefore time.Time) (*WebhookEvent, error)
	// Save overwrites the record identified by (Provider, EventID).
	Save(ctx context.Context, rec *WebhookEvent) error
	// Get returns ErrEventNotFound when nothing matches.
	Get(ctx context.Context, provider, eventID string) (*WebhookEvent, error)
	// ListDue returns failed records with NextAttemptAt <= now and processing
	// records last touched before staleBefore, oldest first.
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*WebhookEvent, error)
}

func eventKey(provider, eventID string) string {
	return provider + ":" + eventID
}

// due reports whether rec should be retried.
func due(rec *WebhookEvent, now, staleBefore time.Time) bool {
	switch rec.Status {
	case StatusFailed:
		return rec.NextAttemptAt == nil || !rec.NextAttemptAt.After(now)
	case StatusProcessing:
		return rec.UpdatedAt.Before(staleBefore)
	}
	return false
}
