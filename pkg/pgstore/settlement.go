package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/settlement"
)

const transactionColumns = `id, tenant_id, appointment_id, professional_id, service_id, payment_method,
	status, total_amount, commission_percentage::text, salon_percentage::text, salon_amount,
	professional_amount, gateway_fee, net_amount, gateway_charge_id, paid_at, refunded_at,
	created_at, updated_at`

// SettlementStore implements settlement.Store. Percentages are NUMERIC and
// travel as text so no precision is lost on the way to decimal.Decimal.
type SettlementStore struct {
	pool *pgxpool.Pool
}

var _ settlement.Store = (*SettlementStore)(nil)

func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

func (s *SettlementStore) GetProfessional(ctx context.Context, tenantID, id uuid.UUID) (*settlement.Professional, error) {
	var (
		pro       settlement.Professional
		base      string
		overrides []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, tenant_id, name, base_commission::text, service_commissions
		FROM professionals WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&pro.ID, &pro.TenantID, &pro.Name, &base, &overrides)
	if pg.IsNotFoundError(err) {
		return nil, settlement.ErrProfessionalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get professional %s: %w", id, err)
	}
	if pro.BaseCommission, err = decimal.NewFromString(base); err != nil {
		return nil, fmt.Errorf("decode commission of professional %s: %w", id, err)
	}
	if err := json.Unmarshal(overrides, &pro.ServiceCommissions); err != nil {
		return nil, fmt.Errorf("decode service commissions of professional %s: %w", id, err)
	}
	if pro.ServiceCommissions == nil {
		pro.ServiceCommissions = map[uuid.UUID]decimal.Decimal{}
	}
	return &pro, nil
}

func (s *SettlementStore) SaveProfessional(ctx context.Context, pro *settlement.Professional) error {
	overrides := pro.ServiceCommissions
	if overrides == nil {
		overrides = map[uuid.UUID]decimal.Decimal{}
	}
	raw, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode service commissions of professional %s: %w", pro.ID, err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO professionals (id, tenant_id, name, base_commission, service_commissions, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, name = EXCLUDED.name,
			base_commission = EXCLUDED.base_commission,
			service_commissions = EXCLUDED.service_commissions, updated_at = NOW()`,
		pro.ID, pro.TenantID, pro.Name, pro.BaseCommission.String(), raw)
	if err != nil {
		return fmt.Errorf("save professional %s: %w", pro.ID, err)
	}
	return nil
}

func (s *SettlementStore) GetTransaction(ctx context.Context, id uuid.UUID) (*settlement.Transaction, error) {
	return s.oneTransaction(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id)
}

// FindByAppointment ignores cancelled transactions.
func (s *SettlementStore) FindByAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*settlement.Transaction, error) {
	return s.oneTransaction(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE tenant_id = $1 AND appointment_id = $2 AND status <> 'cancelled'`, tenantID, appointmentID)
}

func (s *SettlementStore) ListTransactions(ctx context.Context, f settlement.Filter) ([]*settlement.Transaction, error) {
	w := &where{}
	if f.TenantID != uuid.Nil {
		w.add("tenant_id = ?", f.TenantID)
	}
	if f.ProfessionalID != uuid.Nil {
		w.add("professional_id = ?", f.ProfessionalID)
	}
	if len(f.Statuses) > 0 {
		w.add("status = ANY(?)", strs(f.Statuses))
	}
	if f.PaidFrom != nil {
		w.add("paid_at >= ?", *f.PaidFrom)
	}
	if f.PaidTo != nil {
		w.add("paid_at < ?", *f.PaidTo)
	}
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions` + w.sql() + ` ORDER BY created_at, id`
	query += w.limit(f.Limit)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list payment transactions: %w", err)
	}
	defer rows.Close()

	var out []*settlement.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SettlementStore) InsertTransaction(ctx context.Context, t *settlement.Transaction) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO payment_transactions (id, tenant_id, appointment_id,
		professional_id, service_id, payment_method, status, total_amount, commission_percentage,
		salon_percentage, salon_amount, professional_amount, gateway_fee, net_amount,
		gateway_charge_id, paid_at, refunded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		transactionArgs(t)...)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(settlement.ErrTransactionExists, err)
	}
	if err != nil {
		return fmt.Errorf("insert payment transaction %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTransaction writes t only while the stored status still equals expected.
func (s *SettlementStore) UpdateTransaction(ctx context.Context, t *settlement.Transaction, expected settlement.Status) error {
	args := append(transactionArgs(t), string(expected))
	tag, err := s.pool.Exec(ctx, `UPDATE payment_transactions SET
		tenant_id = $2, appointment_id = $3, professional_id = $4, service_id = $5,
		payment_method = $6, status = $7, total_amount = $8, commission_percentage = $9::numeric,
		salon_percentage = $10::numeric, salon_amount = $11, professional_amount = $12,
		gateway_fee = $13, net_amount = $14, gateway_charge_id = $15, paid_at = $16,
		refunded_at = $17, created_at = $18, updated_at = $19
		WHERE id = $1 AND status = $20`, args...)
	if err != nil {
		return fmt.Errorf("update payment transaction %s: %w", t.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM payment_transactions WHERE id = $1`, t.ID).Scan(&current)
	if pg.IsNotFoundError(err) {
		return settlement.ErrTransactionNotFound
	}
	if err != nil {
		return fmt.Errorf("load payment transaction %s: %w", t.ID, err)
	}
	return fmt.Errorf("%w: transaction is %s", settlement.ErrInvalidStatus, current)
}

func (s *SettlementStore) oneTransaction(ctx context.Context, query string, args ...any) (*settlement.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, query, args...))
	if pg.IsNotFoundError(err) {
		return nil, settlement.ErrTransactionNotFound
	}
	return t, err
}

func transactionArgs(t *settlement.Transaction) []any {
	return []any{
		t.ID, t.TenantID, t.AppointmentID, t.ProfessionalID, t.ServiceID, t.PaymentMethod,
		string(t.Status), t.Split.TotalAmount, t.Split.CommissionPercentage.String(),
		t.Split.SalonPercentage.String(), t.Split.SalonAmount, t.Split.ProfessionalAmount,
		t.Split.GatewayFee, t.Split.NetAmount, t.GatewayChargeID, t.PaidAt, t.RefundedAt,
		t.CreatedAt, t.UpdatedAt,
	}
}

func scanTransaction(row pgx.Row) (*settlement.Transaction, error) {
	var (
		t                 settlement.Transaction
		status            string
		commission, salon string
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.AppointmentID, &t.ProfessionalID, &t.ServiceID,
		&t.PaymentMethod, &status, &t.Split.TotalAmount, &commission, &salon, &t.Split.SalonAmount,
		&t.Split.ProfessionalAmount, &t.Split.GatewayFee, &t.Split.NetAmount, &t.GatewayChargeID,
		&t.PaidAt, &t.RefundedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = settlement.Status(status)
	if t.Split.CommissionPercentage, err = decimal.NewFromString(commission); err != nil {
		return nil, fmt.Errorf("decode commission of transaction %s: %w", t.ID, err)
	}
	if t.Split.SalonPercentage, err = decimal.NewFromString(salon); err != nil {
		return nil, fmt.Errorf("decode salon share of transaction %s: %w", t.ID, err)
	}
	t.PaidAt = utc(t.PaidAt)
	t.RefundedAt = utc(t.RefundedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
