package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/audit"
)

// AuditStorage implements audit.Storage and audit.StorageCounter on the
// audit_log table. Subscription transactions write the same table directly.
type AuditStorage struct {
	pool *pgxpool.Pool
}

var (
	_ audit.Storage        = (*AuditStorage)(nil)
	_ audit.StorageCounter = (*AuditStorage)(nil)
)

func NewAuditStorage(pool *pgxpool.Pool) *AuditStorage {
	return &AuditStorage{pool: pool}
}

func (s *AuditStorage) Store(ctx context.Context, events ...audit.Event) error {
	if err := insertAudit(ctx, s.pool, events); err != nil {
		return errors.Join(audit.ErrStorageNotAvailable, err)
	}
	return nil
}

func (s *AuditStorage) Query(ctx context.Context, c audit.Criteria) ([]audit.Event, error) {
	w := auditWhere(c)
	query := `SELECT id, tenant_id, action, entity_type, entity_id, before, after, actor, source,
		result, error, metadata, created_at FROM audit_log` + w.sql() + ` ORDER BY created_at, id`
	query += w.limit(c.Limit)
	if c.Offset > 0 {
		w.args = append(w.args, c.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(w.args))
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e              audit.Event
			source, result string
			before, after  []byte
			meta           []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Action, &e.EntityType, &e.EntityID, &before,
			&after, &e.Actor, &source, &result, &e.Error, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Before, e.After = before, after
		e.Source = audit.Source(source)
		e.Result = audit.Result(result)
		e.CreatedAt = e.CreatedAt.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata of %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *AuditStorage) Count(ctx context.Context, c audit.Criteria) (int64, error) {
	w := auditWhere(c)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit log: %w", err)
	}
	return n, nil
}

func auditWhere(c audit.Criteria) *where {
	w := &where{}
	if c.TenantID != "" {
		w.add("tenant_id = ?", c.TenantID)
	}
	if c.EntityType != "" {
		w.add("entity_type = ?", c.EntityType)
	}
	if c.EntityID != "" {
		w.add("entity_id = ?", c.EntityID)
	}
	if c.Action != "" {
		w.add("action = ?", c.Action)
	}
	if c.Source != "" {
		w.add("source = ?", string(c.Source))
	}
	if c.Result != "" {
		w.add("result = ?", string(c.Result))
	}
	if !c.StartTime.IsZero() {
		w.add("created_at >= ?", c.StartTime)
	}
	if !c.EndTime.IsZero() {
		w.add("created_at < ?", c.EndTime)
	}
	return w
}

func insertAudit(ctx context.Context, q querier, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range events {
		e := &events[i]
		if err := e.Validate(); err != nil {
			return err
		}
		var meta []byte
		if len(e.Metadata) > 0 {
			var err error
			if meta, err = json.Marshal(e.Metadata); err != nil {
				return fmt.Errorf("encode audit metadata of %s: %w", e.ID, err)
			}
		}
		batch.Queue(`INSERT INTO audit_log (id, tenant_id, action, entity_type, entity_id, before, after,
			actor, source, result, error, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			e.ID, e.TenantID, e.Action, e.EntityType, e.EntityID, rawJSON(e.Before), rawJSON(e.After),
			e.Actor, string(e.Source), string(e.Result), e.Error, meta, e.CreatedAt)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append audit events: %w", err)
	}
	return nil
}

// rawJSON maps an empty snapshot to NULL.
func rawJSON(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return m
}
