package invoice

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusPaid, StatusOverdue, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Open reports whether the invoice still expects a payment.
func (s Status) Open() bool {
	return s == StatusDraft || s == StatusPending || s == StatusOverdue
}

// Purpose says what the invoice pays for.
type Purpose string

const (
	PurposeActivation Purpose = "activation"
	PurposeRenewal    Purpose = "renewal"
	PurposePlanChange Purpose = "plan_change"
	PurposePix        Purpose = "pix"
)

// Item is a single invoice line. Amounts are in minor units.
type Item struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
}

// Amount returns quantity times unit amount.
func (i Item) Amount() int64 {
	return i.Quantity * i.UnitAmount
}

func (i Item) validate() error {
	if i.Description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidItem)
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidItem)
	}
	if i.UnitAmount < 0 {
		return fmt.Errorf("%w: unit amount cannot be negative", ErrInvalidItem)
	}
	return nil
}

// Pix holds the instant-payment data of a PIX invoice.
type Pix struct {
	ChargeID  string    `json:"charge_id"`
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Invoice is a bill issued to a tenant. All amounts are in minor units.
type Invoice struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Number         string    `json:"number,omitempty"`
	Status         Status    `json:"status"`
	Purpose        Purpose   `json:"purpose"`

	PlanID       string `json:"plan_id,omitempty"`
	BillingCycle string `json:"billing_cycle,omitempty"`

	Currency   string `json:"currency"`
	Items      []Item `json:"items"`
	Subtotal   int64  `json:"subtotal"`
	Discount   int64  `json:"discount"`
	Tax        int64  `json:"tax"`
	Total      int64  `json:"total"`
	AmountPaid int64  `json:"amount_paid"`

	IssuedAt *time.Time `json:"issued_at,omitempty"`
	DueAt    *time.Time `json:"due_at,omitempty"`
	PaidAt   *time.Time `json:"paid_at,omitempty"`

	GatewayChargeID  string `json:"gateway_charge_id,omitempty"`
	GatewayInvoiceID string `json:"gateway_invoice_id,omitempty"`
	Pix              *Pix   `json:"pix,omitempty"`

	FailureReason  string `json:"failure_reason,omitempty"`
	RefundedAmount int64  `json:"refunded_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a draft invoice with totals computed from items.
func New(tenantID, subscriptionID uuid.UUID, purpose Purpose, currency string, items ...Item) (*Invoice, error) {
	inv := &Invoice{
		ID:             uuid.New(),
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		Status:         StatusDraft,
		Purpose:        purpose,
		Currency:       currency,
	}
	for _, item := range items {
		if err := inv.AddItem(item); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// AmountDue is what remains to be paid.
func (inv *Invoice) AmountDue() int64 {
	return inv.Total - inv.AmountPaid
}

// Recalculate derives Subtotal and Total from the items, discount and tax.
// Total never goes below zero.
func (inv *Invoice) Recalculate() {
	var subtotal int64
	for _, item := range inv.Items {
		subtotal += item.Amount()
	}
	inv.Subtotal = subtotal
	inv.Total = max(subtotal-inv.Discount+inv.Tax, 0)
}

// AddItem appends a line and recalculates.
func (inv *Invoice) AddItem(item Item) error {
	if err := inv.editable(); err != nil {
		return err
	}
	if err := item.validate(); err != nil {
		return err
	}
	inv.Items = append(inv.Items, item)
	inv.Recalculate()
	return nil
}

// SetDiscount replaces the discount and recalculates.
func (inv *Invoice) SetDiscount(amount int64) error {
	if err := inv.editable(); err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("%w: discount cannot be negative", ErrInvalidAmount)
	}
	inv.Discount = amount
	inv.Recalculate()
	return nil
}

// SetTax replaces the tax and recalculates.
func (inv *Invoice) SetTax(amount int64) error {
	if err := inv.editable(); err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("%w: tax cannot be negative", ErrInvalidAmount)
	}
	inv.Tax = amount
	inv.Recalculate()
	return nil
}

func (inv *Invoice) editable() error {
	if inv.Status != StatusDraft && inv.Status != StatusPending {
		return fmt.Errorf("%w: cannot edit %s invoice", ErrInvalidStatus, inv.Status)
	}
	return nil
}

// Issue moves a draft to pending and sets the due date.
func (inv *Invoice) Issue(now time.Time, dueIn time.Duration) error {
	if inv.Status != StatusDraft {
		return fmt.Errorf("%w: cannot issue %s invoice", ErrInvalidStatus, inv.Status)
	}
	now = now.UTC()
	due := now.Add(dueIn)
	inv.Status = StatusPending
	inv.IssuedAt = &now
	inv.DueAt = &due
	return nil
}

// MarkPaid settles the invoice in full. It reports false when the invoice
// was already paid, in which case nothing changes.
func (inv *Invoice) MarkPaid(now time.Time, chargeID string) (bool, error) {
	switch inv.Status {
	case StatusPaid:
		return false, nil
	case StatusCancelled, StatusRefunded:
		return false, fmt.Errorf("%w: cannot pay %s invoice", ErrInvalidStatus, inv.Status)
	}

	now = now.UTC()
	if inv.IssuedAt == nil {
		inv.IssuedAt = &now
	}
	inv.Status = StatusPaid
	inv.AmountPaid = inv.Total
	inv.PaidAt = &now
	inv.FailureReason = ""
	if chargeID != "" {
		inv.GatewayChargeID = chargeID
	}
	return true, nil
}

// MarkOverdue moves a pending invoice past its due date to overdue.
// It reports false when the invoice is already overdue.
func (inv *Invoice) MarkOverdue(now time.Time) (bool, error) {
	switch inv.Status {
	case StatusOverdue:
		return false, nil
	case StatusPending:
	default:
		return false, fmt.Errorf("%w: cannot mark %s invoice overdue", ErrInvalidStatus, inv.Status)
	}
	if inv.DueAt != nil && now.Before(*inv.DueAt) {
		return false, fmt.Errorf("%w: invoice is not due yet", ErrInvalidStatus)
	}
	inv.Status = StatusOverdue
	return true, nil
}

// Cancel voids an unpaid invoice. It reports false when already cancelled.
func (inv *Invoice) Cancel(reason string) (bool, error) {
	switch inv.Status {
	case StatusCancelled:
		return false, nil
	case StatusPaid, StatusRefunded:
		return false, fmt.Errorf("%w: cannot cancel %s invoice", ErrInvalidStatus, inv.Status)
	}
	inv.Status = StatusCancelled
	inv.FailureReason = reason
	return true, nil
}

// Refund returns amount of a paid invoice to the payer. Zero refunds whatever
// has not been refunded yet. Partial refunds may be repeated until the paid
// amount is exhausted.
func (inv *Invoice) Refund(amount int64) error {
	if inv.Status != StatusPaid && inv.Status != StatusRefunded {
		return fmt.Errorf("%w: cannot refund %s invoice", ErrInvalidStatus, inv.Status)
	}

	remaining := inv.AmountPaid - inv.RefundedAmount
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return fmt.Errorf("%w: refund of %d exceeds refundable %d", ErrInvalidAmount, amount, remaining)
	}

	inv.RefundedAmount += amount
	inv.Status = StatusRefunded
	return nil
}

// IsPixExpired reports whether an open PIX invoice can no longer be paid.
func (inv *Invoice) IsPixExpired(now time.Time) bool {
	return inv.Pix != nil && inv.Status.Open() && !now.Before(inv.Pix.ExpiresAt)
}

// IsOverdue reports whether a pending invoice has passed its due date.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	return inv.Status == StatusPending && inv.DueAt != nil && !now.Before(*inv.DueAt)
}

// Clone returns a deep copy.
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	c.Items = slices.Clone(inv.Items)
	if inv.Pix != nil {
		pix := *inv.Pix
		c.Pix = &pix
	}
	c.IssuedAt = clonePtr(inv.IssuedAt)
	c.DueAt = clonePtr(inv.DueAt)
	c.PaidAt = clonePtr(inv.PaidAt)
	return &c
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
