package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Service records per-appointment payments and freezes their split.
type Service struct {
	store    Store
	audit    *audit.Logger
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the settlement service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditLogger records every transaction change.
func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Service) {
		s.audit = l
	}
}

// NewService creates the settlement service. Panics if store is nil.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("settlement: Store is required")
	}
	s := &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput describes a payment for one rendered service.
type CreateInput struct {
	TenantID       uuid.UUID `json:"tenant_id" validate:"required"`
	AppointmentID  uuid.UUID `json:"appointment_id" validate:"required"`
	ProfessionalID uuid.UUID `json:"professional_id" validate:"required"`
	ServiceID      uuid.UUID `json:"service_id"`
	Amount         int64     `json:"amount" validate:"gte=0"`
	GatewayFee     int64     `json:"gateway_fee" validate:"gte=0"`
	PaymentMethod  string    `json:"payment_method" validate:"required,oneof=card pix cash boleto"`
}

// CreateTransaction resolves the commission of the professional once and
// stores a pending transaction with the split frozen on it. A second call for
// the same appointment returns the existing transaction.
func (s *Service) CreateTransaction(ctx context.Context, in CreateInput) (*Transaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Join(ErrInvalidInput, err)
	}

	if existing, err := s.store.FindByAppointment(ctx, in.TenantID, in.AppointmentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	pro, err := s.store.GetProfessional(ctx, in.TenantID, in.ProfessionalID)
	if err != nil {
		return nil, err
	}
	split, err := Calculate(in.Amount, ResolveCommission(*pro, in.ServiceID), in.GatewayFee)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &Transaction{
		ID:             uuid.New(),
		TenantID:       in.TenantID,
		AppointmentID:  in.AppointmentID,
		ProfessionalID: in.ProfessionalID,
		ServiceID:      in.ServiceID,
		PaymentMethod:  in.PaymentMethod,
		Status:         StatusPending,
		Split:          split,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	s.record(ctx, "settlement.created", nil, t)
	return t, nil
}

// MarkPaid settles a pending transaction. It reports false when it was already paid.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, chargeID string) (bool, error) {
	return s.mutate(ctx, id, "settlement.paid", func(t *Transaction) (bool, error) {
		return t.markPaid(s.now(), chargeID)
	})
}

// Refund marks a paid transaction refunded. It reports false when it already was.
func (s *Service) Refund(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.mutate(ctx, id, "settlement.refunded", func(t *Transaction) (bool, error) {
		return t.refund(s.now())
	})
}

// Cancel voids a pending transaction.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.mutate(ctx, id, "settlement.cancelled", func(t *Transaction) (bool, error) {
		return t.cancel()
	})
}

// Recalculate recomputes the split of a pending transaction for a new amount
// and fee, keeping the commission frozen at creation. Paid and refunded
// transactions return ErrImmutable.
func (s *Service) Recalculate(ctx context.Context, id uuid.UUID, amount, fee int64) (*Transaction, error) {
	var out *Transaction
	_, err := s.mutate(ctx, id, "settlement.recalculated", func(t *Transaction) (bool, error) {
		switch t.Status {
		case StatusPaid, StatusRefunded:
			return false, ErrImmutable
		case StatusCancelled:
			return false, fmt.Errorf("%w: cannot recalculate cancelled transaction", ErrInvalidStatus)
		}
		split, err := Calculate(amount, t.Split.CommissionPercentage, fee)
		if err != nil {
			return false, err
		}
		t.Split = split
		out = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction loads a transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// Earnings sums the paid splits of a professional in [from, to).
type Earnings struct {
	ProfessionalID     uuid.UUID `json:"professional_id"`
	Transactions       int       `json:"transactions"`
	TotalAmount        int64     `json:"total_amount"`
	ProfessionalAmount int64     `json:"professional_amount"`
	SalonAmount        int64     `json:"salon_amount"`
	GatewayFees        int64     `json:"gateway_fees"`
}

// ProfessionalEarnings returns what a professional earned from paid transactions in [from, to).
func (s *Service) ProfessionalEarnings(ctx context.Context, tenantID, professionalID uuid.UUID, from, to time.Time) (Earnings, error) {
	list, err := s.store.ListTransactions(ctx, Filter{
		TenantID:       tenantID,
		ProfessionalID: professionalID,
		Statuses:       []Status{StatusPaid},
		PaidFrom:       &from,
		PaidTo:         &to,
	})
	if err != nil {
		return Earnings{}, err
	}
	out := Earnings{ProfessionalID: professionalID}
	for _, t := range list {
		out.Transactions++
		out.TotalAmount += t.Split.TotalAmount
		out.ProfessionalAmount += t.Split.ProfessionalAmount
		out.SalonAmount += t.Split.SalonAmount
		out.GatewayFees += t.Split.GatewayFee
	}
	return out, nil
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, action string, fn func(t *Transaction) (bool, error)) (bool, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return false, err
	}
	before := t.Clone()
	changed, err := fn(t)
	if err != nil || !changed {
		return false, err
	}
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTransaction(ctx, t, before.Status); err != nil {
		return false, fmt.Errorf("update transaction: %w", err)
	}
	s.record(ctx, action, before, t)
	return true, nil
}

func (s *Service) record(ctx context.Context, action string, before, after *Transaction) {
	s.logger.InfoContext(ctx, action,
		logger.TenantID(after.TenantID),
		slog.String("transaction_id", after.ID.String()),
		slog.String("status", string(after.Status)),
	)
	if s.audit == nil {
		return
	}
	opts := []audit.EventOption{
		audit.WithTenant(after.TenantID.String()),
		audit.WithEntity("payment_transaction", after.ID.String()),
		audit.WithSource(audit.SourceAPI),
		audit.WithAfter(after),
	}
	if before != nil {
		opts = append(opts, audit.WithBefore(before))
	}
	if err := s.audit.Log(ctx, action, opts...); err != nil {
		s.logger.WarnContext(ctx, "failed to write settlement audit entry", logger.Error(err))
	}
}
