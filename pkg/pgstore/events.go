package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
)

const eventColumns = `id, provider, event_id, type, status, payload, attempts, last_error,
	tenant_id, subscription_id, next_attempt_at, received_at, processed_at, updated_at`

// EventStore implements reconcile.EventStore on webhook_events.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ reconcile.EventStore = (*EventStore)(nil)

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Begin claims the delivery in one statement: the conditional upsert only
// takes over failed or stale processing rows. When it touches nothing the
// existing row decides the duplicate status.
func (s *EventStore) Begin(ctx context.Context, rec *reconcile.WebhookEvent, staleBefore time.Time) (*reconcile.WebhookEvent, error) {
	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	received := rec.ReceivedAt
	if received.IsZero() {
		received = rec.UpdatedAt
	}
	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}

	claimed, err := scanEvent(s.pool.QueryRow(ctx, `INSERT INTO webhook_events
		(id, provider, event_id, type, status, payload, attempts, last_error, tenant_id,
			subscription_id, next_attempt_at, received_at, processed_at, updated_at)
		VALUES ($1, $2, $3, $4, 'processing', $5, 1, '', $6, $7, NULL, $8, NULL, $9)
		ON CONFLICT (provider, event_id) DO UPDATE SET
			status = 'processing',
			attempts = webhook_events.attempts + 1,
			next_attempt_at = NULL,
			updated_at = EXCLUDED.updated_at,
			payload = CASE WHEN length(EXCLUDED.payload) > 0 THEN EXCLUDED.payload ELSE webhook_events.payload END
		WHERE webhook_events.status = 'failed'
			OR (webhook_events.status = 'processing' AND webhook_events.updated_at < $10)
		RETURNING `+eventColumns,
		id, rec.Provider, rec.EventID, rec.Type, payload, nullUUID(rec.TenantID),
		nullUUID(rec.SubscriptionID), received, rec.UpdatedAt, staleBefore))
	if err == nil {
		return claimed, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("begin webhook event %s/%s: %w", rec.Provider, rec.EventID, err)
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM webhook_events WHERE provider = $1 AND event_id = $2`,
		rec.Provider, rec.EventID).Scan(&status)
	if err != nil {
		return nil, fmt.Errorf("load webhook event %s/%s: %w", rec.Provider, rec.EventID, err)
	}
	return nil, &reconcile.DuplicateEventError{Provider: rec.Provider, EventID: rec.EventID, Status: reconcile.Status(status)}
}

func (s *EventStore) Save(ctx context.Context, rec *reconcile.WebhookEvent) error {
	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}
	tag, err := s.pool.Exec(ctx, `UPDATE webhook_events SET
		id = $3, type = $4, status = $5, payload = $6, attempts = $7, last_error = $8,
		tenant_id = $9, subscription_id = $10, next_attempt_at = $11, received_at = $12,
		processed_at = $13, updated_at = $14
		WHERE provider = $1 AND event_id = $2`,
		rec.Provider, rec.EventID, rec.ID, rec.Type, string(rec.Status), payload, rec.Attempts,
		rec.LastError, nullUUID(rec.TenantID), nullUUID(rec.SubscriptionID), rec.NextAttemptAt,
		rec.ReceivedAt, rec.ProcessedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save webhook event %s/%s: %w", rec.Provider, rec.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return reconcile.ErrEventNotFound
	}
	return nil
}

func (s *EventStore) Get(ctx context.Context, provider, eventID string) (*reconcile.WebhookEvent, error) {
	rec, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events
		WHERE provider = $1 AND event_id = $2`, provider, eventID))
	if pg.IsNotFoundError(err) {
		return nil, reconcile.ErrEventNotFound
	}
	return rec, err
}

func (s *EventStore) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*reconcile.WebhookEvent, error) {
	w := &where{}
	w.add("((status = 'failed' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (status = 'processing' AND updated_at < ?))",
		now, staleBefore)
	query := `SELECT ` + eventColumns + ` FROM webhook_events` + w.sql() + ` ORDER BY received_at`
	query += w.limit(limit)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list due webhook events: %w", err)
	}
	defer rows.Close()

	var out []*reconcile.WebhookEvent
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (*reconcile.WebhookEvent, error) {
	var (
		rec         reconcile.WebhookEvent
		status      string
		tenant, sub uuid.NullUUID
	)
	err := row.Scan(&rec.ID, &rec.Provider, &rec.EventID, &rec.Type, &status, &rec.Payload,
		&rec.Attempts, &rec.LastError, &tenant, &sub, &rec.NextAttemptAt, &rec.ReceivedAt,
		&rec.ProcessedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = reconcile.Status(status)
	rec.TenantID = tenant.UUID
	rec.SubscriptionID = sub.UUID
	rec.NextAttemptAt = utc(rec.NextAttemptAt)
	rec.ProcessedAt = utc(rec.ProcessedAt)
	rec.ReceivedAt = rec.ReceivedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}
