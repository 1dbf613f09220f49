package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

const invoiceColumns = `id, tenant_id, subscription_id, number, status, purpose, plan_id, billing_cycle,
	currency, items, subtotal, discount, tax, total, amount_paid, issued_at, due_at, paid_at,
	gateway_charge_id, gateway_invoice_id, pix_charge_id, pix_payload, pix_expires_at,
	failure_reason, refunded_amount, created_at, updated_at`

func (r queries) GetInvoice(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	return r.oneInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

// FindInvoiceByGatewayCharge matches the card charge id and the PIX charge id.
func (r queries) FindInvoiceByGatewayCharge(ctx context.Context, chargeID string) (*invoice.Invoice, error) {
	if chargeID == "" {
		return nil, subscription.ErrInvoiceNotFound
	}
	return r.oneInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE gateway_charge_id = $1 OR pix_charge_id = $1
		ORDER BY created_at DESC LIMIT 1`, chargeID)
}

func (r queries) ListInvoices(ctx context.Context, filter subscription.InvoiceFilter) ([]*invoice.Invoice, error) {
	query, args := invoiceListQuery(filter)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func invoiceListQuery(f subscription.InvoiceFilter) (string, []any) {
	w := &where{}
	if f.TenantID != uuid.Nil {
		w.add("tenant_id = ?", f.TenantID)
	}
	if f.SubscriptionID != uuid.Nil {
		w.add("subscription_id = ?", f.SubscriptionID)
	}
	if len(f.Statuses) > 0 {
		w.add("status = ANY(?)", strs(f.Statuses))
	}
	if f.Purpose != "" {
		w.add("purpose = ?", string(f.Purpose))
	}
	if f.PixExpiresBefore != nil {
		w.add("pix_expires_at <= ?", *f.PixExpiresBefore)
	}
	if f.DueBefore != nil {
		w.add("due_at <= ?", *f.DueBefore)
	}
	if f.HasPix != nil {
		if *f.HasPix {
			w.add("pix_charge_id IS NOT NULL AND pix_expires_at IS NOT NULL")
		} else {
			w.add("(pix_charge_id IS NULL OR pix_expires_at IS NULL)")
		}
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + w.sql() + ` ORDER BY created_at, number`
	query += w.limit(f.Limit)
	return query, w.args
}

func (r queries) oneInvoice(ctx context.Context, query string, args ...any) (*invoice.Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, query, args...))
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrInvoiceNotFound
	}
	return inv, err
}

func scanInvoice(row pgx.Row) (*invoice.Invoice, error) {
	var (
		inv                   invoice.Invoice
		number                *string
		status, purpose       string
		items                 []byte
		pixCharge, pixPayload *string
		pixExpires            *time.Time
	)
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.SubscriptionID, &number, &status, &purpose, &inv.PlanID,
		&inv.BillingCycle, &inv.Currency, &items, &inv.Subtotal, &inv.Discount, &inv.Tax,
		&inv.Total, &inv.AmountPaid, &inv.IssuedAt, &inv.DueAt, &inv.PaidAt,
		&inv.GatewayChargeID, &inv.GatewayInvoiceID, &pixCharge, &pixPayload, &pixExpires,
		&inv.FailureReason, &inv.RefundedAmount, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if number != nil {
		inv.Number = *number
	}
	inv.Status = invoice.Status(status)
	inv.Purpose = invoice.Purpose(purpose)
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return nil, fmt.Errorf("decode items of invoice %s: %w", inv.ID, err)
	}
	if pixCharge != nil && pixExpires != nil {
		inv.Pix = &invoice.Pix{ChargeID: *pixCharge, ExpiresAt: pixExpires.UTC()}
		if pixPayload != nil {
			inv.Pix.Payload = *pixPayload
		}
	}
	inv.IssuedAt = utc(inv.IssuedAt)
	inv.DueAt = utc(inv.DueAt)
	inv.PaidAt = utc(inv.PaidAt)
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return &inv, nil
}

func invoiceArgs(inv *invoice.Invoice) ([]any, error) {
	items := inv.Items
	if items == nil {
		items = []invoice.Item{}
	}
	rawItems, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	var (
		pixCharge, pixPayload *string
		pixExpires            *time.Time
	)
	if inv.Pix != nil {
		pixCharge = &inv.Pix.ChargeID
		pixPayload = &inv.Pix.Payload
		pixExpires = &inv.Pix.ExpiresAt
	}
	return []any{
		inv.ID, inv.TenantID, inv.SubscriptionID, nullString(inv.Number), string(inv.Status),
		string(inv.Purpose), inv.PlanID, inv.BillingCycle, inv.Currency, rawItems, inv.Subtotal,
		inv.Discount, inv.Tax, inv.Total, inv.AmountPaid, inv.IssuedAt, inv.DueAt, inv.PaidAt,
		inv.GatewayChargeID, inv.GatewayInvoiceID, pixCharge, pixPayload, pixExpires,
		inv.FailureReason, inv.RefundedAmount, inv.CreatedAt, inv.UpdatedAt,
	}, nil
}

func (tx *subscriptionTx) InsertInvoice(ctx context.Context, inv *invoice.Invoice) error {
	args, err := invoiceArgs(inv)
	if err != nil {
		return fmt.Errorf("encode invoice %s: %w", inv.ID, err)
	}
	_, err = tx.q.Exec(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27)`, args...)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(invoice.ErrInvalidNumber, err)
	}
	if err != nil {
		return fmt.Errorf("insert invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (tx *subscriptionTx) UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	args, err := invoiceArgs(inv)
	if err != nil {
		return fmt.Errorf("encode invoice %s: %w", inv.ID, err)
	}
	tag, err := tx.q.Exec(ctx, `UPDATE invoices SET
		tenant_id = $2, subscription_id = $3, number = $4, status = $5, purpose = $6, plan_id = $7,
		billing_cycle = $8, currency = $9, items = $10, subtotal = $11, discount = $12, tax = $13,
		total = $14, amount_paid = $15, issued_at = $16, due_at = $17, paid_at = $18,
		gateway_charge_id = $19, gateway_invoice_id = $20, pix_charge_id = $21, pix_payload = $22,
		pix_expires_at = $23, failure_reason = $24, refunded_amount = $25, created_at = $26,
		updated_at = $27
		WHERE id = $1`, args...)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(invoice.ErrInvalidNumber, err)
	}
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrInvoiceNotFound
	}
	return nil
}

// NextInvoiceNumber increments the per-year counter under the row lock of
// the upsert, so concurrent transactions never share a value.
func (tx *subscriptionTx) NextInvoiceNumber(ctx context.Context, year int) (int64, error) {
	var n int64
	err := tx.q.QueryRow(ctx, `INSERT INTO invoice_sequences (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value`, year).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next invoice number for %d: %w", year, err)
	}
	return n, nil
}
