package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a payment transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// Transaction records the payment of one rendered service and its frozen split.
type Transaction struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	AppointmentID   uuid.UUID  `json:"appointment_id"`
	ProfessionalID  uuid.UUID  `json:"professional_id"`
	ServiceID       uuid.UUID  `json:"service_id"`
	PaymentMethod   string     `json:"payment_method"`
	Status          Status     `json:"status"`
	Split           Split      `json:"split"`
	GatewayChargeID string     `json:"gateway_charge_id,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// markPaid reports false when the transaction was already paid.
func (t *Transaction) markPaid(now time.Time, chargeID string) (bool, error) {
	switch t.Status {
	case StatusPaid:
		return false, nil
	case StatusPending:
	default:
		return false, fmt.Errorf("%w: cannot pay %s transaction", ErrInvalidStatus, t.Status)
	}
	now = now.UTC()
	t.Status = StatusPaid
	t.PaidAt = &now
	if chargeID != "" {
		t.GatewayChargeID = chargeID
	}
	return true, nil
}

func (t *Transaction) refund(now time.Time) (bool, error) {
	switch t.Status {
	case StatusRefunded:
		return false, nil
	case StatusPaid:
	default:
		return false, fmt.Errorf("%w: cannot refund %s transaction", ErrInvalidStatus, t.Status)
	}
	now = now.UTC()
	t.Status = StatusRefunded
	t.RefundedAt = &now
	return true, nil
}

func (t *Transaction) cancel() (bool, error) {
	switch t.Status {
	case StatusCancelled:
		return false, nil
	case StatusPending:
	default:
		return false, fmt.Errorf("%w: cannot cancel %s transaction", ErrInvalidStatus, t.Status)
	}
	t.Status = StatusCancelled
	return true, nil
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.PaidAt != nil {
		at := *t.PaidAt
		c.PaidAt = &at
	}
	if t.RefundedAt != nil {
		at := *t.RefundedAt
		c.RefundedAt = &at
	}
	return &c
}
