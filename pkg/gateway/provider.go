package gateway

import (
	"context"
)

// CustomerManager manages the gateway-side customer record of a tenant.
type CustomerManager interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error)
	UpdateCustomer(ctx context.Context, customerID string, req CustomerRequest) (*Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
}

// SubscriptionManager manages recurring subscriptions on the gateway.
type SubscriptionManager interface {
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*RemoteSubscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, req SubscriptionUpdate) (*RemoteSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, req CancelRequest) (*RemoteSubscription, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string, idempotencyKey string) (*RemoteSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error)
}

// CheckoutCreator creates hosted checkout sessions.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// PixCharger creates and polls PIX instant-payment charges.
type PixCharger interface {
	CreatePixCharge(ctx context.Context, req PixChargeRequest) (*PixCharge, error)
	GetPixCharge(ctx context.Context, chargeID string) (*PixCharge, error)
}

// PaymentMethodManager stores payment methods against a customer.
type PaymentMethodManager interface {
	AttachPaymentMethod(ctx context.Context, customerID, token, idempotencyKey string) (*PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
}

// InvoiceManager drives gateway-side invoices.
type InvoiceManager interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*RemoteInvoice, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (*RemoteInvoice, error)
	PayInvoice(ctx context.Context, invoiceID, idempotencyKey string) (*RemoteInvoice, error)
}

// Refunder refunds settled charges.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// WebhookParser authenticates and normalizes inbound webhook payloads.
type WebhookParser interface {
	// VerifyWebhook checks the signature header against the raw body.
	// Failures are returned as *SignatureVerificationError.
	VerifyWebhook(payload []byte, signature string) error
	// ParseWebhook converts an already verified payload into a normalized event.
	// Gateway event types without a mapping resolve to (nil, nil).
	ParseWebhook(payload []byte) (*Event, error)
}

// Provider is the contract every payment gateway adapter implements.
// Exactly one provider is active per deployment; it is built once at startup
// and injected into the services that need it.
type Provider interface {
	Name() string

	CustomerManager
	SubscriptionManager
	CheckoutCreator
	PixCharger
	PaymentMethodManager
	InvoiceManager
	Refunder
	WebhookParser
}
