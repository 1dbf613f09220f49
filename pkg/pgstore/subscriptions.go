package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

const subscriptionColumns = `id, tenant_id, plan_id, plan, status, billing_cycle, payment_method,
	amount, currency, started_at, trial_ends_at, current_period_start, current_period_end,
	next_billing_at, last_payment_at, suspended_at, cancelled_at, ends_at, grace_period_days,
	gateway_customer_id, gateway_subscription_id, usage, usage_reset_at, metadata,
	deleted_at, created_at, updated_at`

// SubscriptionStore implements subscription.Store. Writes to the tenant
// access flag and the audit log share the subscription transaction.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

var _ subscription.Store = (*SubscriptionStore)(nil)

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

// WithTx runs fn in a read committed transaction. Rows read through
// LockSubscription stay locked until commit.
func (s *SubscriptionStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx subscription.Tx) error) error {
	return pg.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &subscriptionTx{queries: queries{q: tx}})
	})
}

func (s *SubscriptionStore) GetSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.queries().GetSubscription(ctx, id)
}

func (s *SubscriptionStore) FindCurrentByTenant(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	return s.queries().FindCurrentByTenant(ctx, tenantID)
}

func (s *SubscriptionStore) FindByGatewaySubscription(ctx context.Context, gatewayID string) (*subscription.Subscription, error) {
	return s.queries().FindByGatewaySubscription(ctx, gatewayID)
}

func (s *SubscriptionStore) ListSubscriptions(ctx context.Context, filter subscription.SubscriptionFilter) ([]*subscription.Subscription, error) {
	return s.queries().ListSubscriptions(ctx, filter)
}

func (s *SubscriptionStore) GetInvoice(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	return s.queries().GetInvoice(ctx, id)
}

func (s *SubscriptionStore) FindInvoiceByGatewayCharge(ctx context.Context, chargeID string) (*invoice.Invoice, error) {
	return s.queries().FindInvoiceByGatewayCharge(ctx, chargeID)
}

func (s *SubscriptionStore) ListInvoices(ctx context.Context, filter subscription.InvoiceFilter) ([]*invoice.Invoice, error) {
	return s.queries().ListInvoices(ctx, filter)
}

func (s *SubscriptionStore) queries() queries { return queries{q: s.pool} }

// queries implements subscription.Queries on any querier.
type queries struct {
	q querier
}

func (r queries) GetSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return r.oneSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r queries) FindCurrentByTenant(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	return r.oneSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, seq DESC LIMIT 1`, tenantID)
}

func (r queries) FindByGatewaySubscription(ctx context.Context, gatewayID string) (*subscription.Subscription, error) {
	if gatewayID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return r.oneSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE gateway_subscription_id = $1 AND deleted_at IS NULL`, gatewayID)
}

func (r queries) ListSubscriptions(ctx context.Context, filter subscription.SubscriptionFilter) ([]*subscription.Subscription, error) {
	query, args := subscriptionListQuery(filter)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func subscriptionListQuery(f subscription.SubscriptionFilter) (string, []any) {
	w := &where{}
	w.add("deleted_at IS NULL")
	if f.TenantID != uuid.Nil {
		w.add("tenant_id = ?", f.TenantID)
	}
	if len(f.Statuses) > 0 {
		w.add("status = ANY(?)", strs(f.Statuses))
	}
	if f.TrialEndsBefore != nil {
		w.add("trial_ends_at <= ?", *f.TrialEndsBefore)
	}
	if f.PeriodEndsBefore != nil {
		w.add("current_period_end <= ?", *f.PeriodEndsBefore)
	}
	if f.SuspendedBefore != nil {
		w.add("suspended_at <= ?", *f.SuspendedBefore)
	}
	if f.UsageResetBefore != nil {
		w.add("(usage_reset_at IS NULL OR usage_reset_at < ?)", *f.UsageResetBefore)
	}
	if f.CancelAtPeriodEnd != nil {
		w.add("cancel_at_period_end = ?", *f.CancelAtPeriodEnd)
	}
	if f.GraceEndsBefore != nil {
		// day arithmetic in UTC, as subscription.GraceEndsAt does it
		w.add(`(COALESCE(current_period_end, trial_ends_at) AT TIME ZONE 'UTC'
			+ make_interval(days => GREATEST(grace_period_days, 0))) AT TIME ZONE 'UTC' <= ?`, *f.GraceEndsBefore)
	}
	if f.EndsBefore != nil {
		w.add("ends_at <= ?", *f.EndsBefore)
	}
	if f.PeriodEndsAfter != nil {
		w.add("current_period_end > ?", *f.PeriodEndsAfter)
	}
	if f.UnpaidSinceSuspension {
		w.add("suspended_at IS NOT NULL AND (last_payment_at IS NULL OR last_payment_at < suspended_at)")
	}
	if f.NotRemindedAt != nil {
		w.add(`NOT COALESCE((metadata ->> 'reminder_period_end')::TIMESTAMPTZ = current_period_end, FALSE)
			AND NOT COALESCE(((metadata ->> 'last_reminder_at')::TIMESTAMPTZ AT TIME ZONE 'UTC')::DATE
				= (?::TIMESTAMPTZ AT TIME ZONE 'UTC')::DATE, FALSE)`, *f.NotRemindedAt)
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + w.sql() + ` ORDER BY created_at, id`
	query += w.limit(f.Limit)
	return query, w.args
}

func (r queries) oneSubscription(ctx context.Context, query string, args ...any) (*subscription.Subscription, error) {
	sub, err := scanSubscription(r.q.QueryRow(ctx, query, args...))
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return sub, err
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub                  subscription.Subscription
		plan, usage, meta    []byte
		status, cycle, payBy string
	)
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &plan, &status, &cycle, &payBy,
		&sub.Amount.Amount, &sub.Amount.Currency, &sub.StartedAt, &sub.TrialEndsAt,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextBillingAt, &sub.LastPaymentAt,
		&sub.SuspendedAt, &sub.CancelledAt, &sub.EndsAt, &sub.GracePeriodDays,
		&sub.GatewayCustomerID, &sub.GatewaySubscriptionID, &usage, &sub.UsageResetAt, &meta,
		&sub.DeletedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = subscription.Status(status)
	sub.BillingCycle = subscription.BillingCycle(cycle)
	sub.PaymentMethod = subscription.PaymentMethod(payBy)
	if err := json.Unmarshal(plan, &sub.Plan); err != nil {
		return nil, fmt.Errorf("decode plan snapshot of %s: %w", sub.ID, err)
	}
	if err := json.Unmarshal(usage, &sub.Usage); err != nil {
		return nil, fmt.Errorf("decode usage of %s: %w", sub.ID, err)
	}
	if err := json.Unmarshal(meta, &sub.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", sub.ID, err)
	}
	if sub.Usage == nil {
		sub.Usage = map[subscription.Resource]int64{}
	}

	sub.StartedAt = sub.StartedAt.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	for _, p := range []**time.Time{
		&sub.TrialEndsAt, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextBillingAt,
		&sub.LastPaymentAt, &sub.SuspendedAt, &sub.CancelledAt, &sub.EndsAt,
		&sub.UsageResetAt, &sub.DeletedAt,
	} {
		*p = utc(*p)
	}
	return &sub, nil
}

// subscriptionArgs returns the column values in subscriptionColumns order.
func subscriptionArgs(sub *subscription.Subscription) ([]any, error) {
	plan, err := json.Marshal(sub.Plan)
	if err != nil {
		return nil, err
	}
	usage := sub.Usage
	if usage == nil {
		usage = map[subscription.Resource]int64{}
	}
	usageRaw, err := json.Marshal(usage)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(sub.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		sub.ID, sub.TenantID, sub.PlanID, plan, string(sub.Status), string(sub.BillingCycle),
		string(sub.PaymentMethod), sub.Amount.Amount, sub.Amount.Currency, sub.StartedAt,
		sub.TrialEndsAt, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillingAt,
		sub.LastPaymentAt, sub.SuspendedAt, sub.CancelledAt, sub.EndsAt, sub.GracePeriodDays,
		sub.GatewayCustomerID, sub.GatewaySubscriptionID, usageRaw, sub.UsageResetAt, meta,
		sub.DeletedAt, sub.CreatedAt, sub.UpdatedAt,
	}, nil
}

type subscriptionTx struct {
	queries
}

func (tx *subscriptionTx) LockSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return tx.oneSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
}

func (tx *subscriptionTx) InsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return fmt.Errorf("encode subscription %s: %w", sub.ID, err)
	}
	_, err = tx.q.Exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27)`, args...)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(subscription.ErrSubscriptionExists, err)
	}
	if err != nil {
		return fmt.Errorf("insert subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (tx *subscriptionTx) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return fmt.Errorf("encode subscription %s: %w", sub.ID, err)
	}
	tag, err := tx.q.Exec(ctx, `UPDATE subscriptions SET
		tenant_id = $2, plan_id = $3, plan = $4, status = $5, billing_cycle = $6, payment_method = $7,
		amount = $8, currency = $9, started_at = $10, trial_ends_at = $11, current_period_start = $12,
		current_period_end = $13, next_billing_at = $14, last_payment_at = $15, suspended_at = $16,
		cancelled_at = $17, ends_at = $18, grace_period_days = $19, gateway_customer_id = $20,
		gateway_subscription_id = $21, usage = $22, usage_reset_at = $23, metadata = $24,
		deleted_at = $25, created_at = $26, updated_at = $27
		WHERE id = $1`, args...)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(subscription.ErrSubscriptionExists, err)
	}
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

func (tx *subscriptionTx) SetTenantAccess(ctx context.Context, tenantID uuid.UUID, active bool, at time.Time) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO tenants (id, name, active, blocked_at, created_at, updated_at)
		VALUES ($1, '', $2, CASE WHEN $2 THEN NULL ELSE $3::timestamptz END, $3, $3)
		ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active,
			blocked_at = CASE WHEN EXCLUDED.active THEN NULL ELSE COALESCE(tenants.blocked_at, EXCLUDED.updated_at) END,
			updated_at = EXCLUDED.updated_at`, tenantID, active, at)
	if err != nil {
		return fmt.Errorf("set tenant access %s: %w", tenantID, err)
	}
	return nil
}

func (tx *subscriptionTx) AppendAudit(ctx context.Context, events ...audit.Event) error {
	return insertAudit(ctx, tx.q, events)
}
