package gateway

import (
	"time"
)

// Interval is the billing frequency understood by gateways.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// DefaultPixExpiry is how long a PIX charge stays payable when the caller gives no expiry.
const DefaultPixExpiry = 24 * time.Hour

// Metadata keys adapters attach to remote resources and read back from webhooks.
const (
	MetaTenantID       = "tenant_id"
	MetaSubscriptionID = "subscription_id"
	MetaInvoiceID      = "invoice_id"
	MetaPlanID         = "plan_id"
)

// CustomerRequest describes the tenant owner as a gateway customer.
type CustomerRequest struct {
	TenantID       string
	Email          string
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

// Customer is the gateway-side customer record.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// SubscriptionRequest creates a recurring subscription on the gateway.
type SubscriptionRequest struct {
	CustomerID       string
	PlanID           string
	PriceRef         string // gateway price identifier (Stripe price, Paddle price)
	Amount           int64
	Currency         string
	Interval         Interval
	PaymentMethodRef string
	Metadata         map[string]string
	IdempotencyKey   string
}

// SubscriptionUpdate moves a remote subscription to another plan or price.
type SubscriptionUpdate struct {
	PlanID         string
	PriceRef       string
	Amount         int64
	Currency       string
	Interval       Interval
	Metadata       map[string]string
	IdempotencyKey string
}

// CancelRequest cancels a remote subscription now or at period end.
type CancelRequest struct {
	AtPeriodEnd    bool
	Reason         string
	IdempotencyKey string
}

// SubscriptionStatus is the gateway's view of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionPaused     SubscriptionStatus = "paused"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
)

// RemoteSubscription is the gateway's record of a subscription.
type RemoteSubscription struct {
	ID                string
	CustomerID        string
	Status            SubscriptionStatus
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	// LatestCharge is set when the gateway charged synchronously on create or update.
	LatestCharge *Charge
}

// Charge is a single payment attempt reported by the gateway.
type Charge struct {
	ID            string
	InvoiceID     string
	Amount        int64
	Currency      string
	Paid          bool
	PaidAt        *time.Time
	FailureReason string
}

// CheckoutRequest creates a hosted checkout page.
type CheckoutRequest struct {
	CustomerID     string
	CustomerEmail  string
	PlanID         string
	PriceRef       string
	Interval       Interval
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutSession is a hosted checkout page.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt *time.Time
}

// PixChargeRequest creates a time-limited PIX charge.
type PixChargeRequest struct {
	CustomerID     string
	Amount         int64
	Currency       string
	Description    string
	ExpiresIn      time.Duration
	Metadata       map[string]string
	IdempotencyKey string
}

// PixStatus is the state of a PIX charge on the gateway.
type PixStatus string

const (
	PixPending   PixStatus = "pending"
	PixPaid      PixStatus = "paid"
	PixExpired   PixStatus = "expired"
	PixCancelled PixStatus = "cancelled"
)

// PixCharge is a PIX charge with its QR code data.
type PixCharge struct {
	ID        string
	Amount    int64
	Currency  string
	Status    PixStatus
	QRPayload string // EMV payload encoded in the QR code
	CopyPaste string // string the payer pastes into a banking app
	QRImage   string // data URI or hosted URL of the QR image, may be empty
	ExpiresAt time.Time
	PaidAt    *time.Time
}

// PaymentMethod is a stored payment instrument.
type PaymentMethod struct {
	ID         string
	CustomerID string
	Type       string
	Brand      string
	Last4      string
}

// InvoiceItem is a line on a gateway invoice.
type InvoiceItem struct {
	Description string
	Quantity    int64
	UnitAmount  int64
}

// InvoiceRequest creates a gateway invoice.
type InvoiceRequest struct {
	CustomerID     string
	SubscriptionID string
	Currency       string
	Items          []InvoiceItem
	Metadata       map[string]string
	IdempotencyKey string
}

// InvoiceStatus is the gateway's view of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceOpen          InvoiceStatus = "open"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceVoid          InvoiceStatus = "void"
	InvoiceUncollectible InvoiceStatus = "uncollectible"
)

// RemoteInvoice is a gateway-side invoice.
type RemoteInvoice struct {
	ID         string
	Status     InvoiceStatus
	Total      int64
	AmountPaid int64
	Currency   string
	ChargeID   string
	HostedURL  string
}

// RefundRequest refunds all or part of a charge. Zero Amount refunds in full.
type RefundRequest struct {
	ChargeID       string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// Refund is the gateway's refund record.
type Refund struct {
	ID       string
	ChargeID string
	Amount   int64
	Status   string
}
