package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleSignatureHeader carries the Paddle webhook signature.
const PaddleSignatureHeader = "Paddle-Signature"

// Paddle implements Provider on top of the Paddle Billing SDK.
// Paddle has no PIX and no direct invoice or payment-method API; those
// operations return ErrUnsupportedOperation.
type Paddle struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	cfg      PaddleConfig
	logger   *slog.Logger
}

// PaddleOption configures the Paddle adapter.
type PaddleOption func(*Paddle)

// WithPaddleLogger sets the adapter logger.
func WithPaddleLogger(logger *slog.Logger) PaddleOption {
	return func(p *Paddle) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPaddle creates the Paddle adapter.
func NewPaddle(cfg PaddleConfig, opts ...PaddleOption) (*Paddle, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	p := &Paddle{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Paddle) Name() string { return ProviderPaddle }

func (p *Paddle) fail(op string, err error) error {
	return NewGatewayError(ProviderPaddle, op, 0, err)
}

func (p *Paddle) unsupported(op string) error {
	return NewGatewayError(ProviderPaddle, op, 0, ErrUnsupportedOperation)
}

func (p *Paddle) CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	custom := paddle.CustomData{}
	for k, v := range req.Metadata {
		custom[k] = v
	}
	if req.TenantID != "" {
		custom[MetaTenantID] = req.TenantID
	}

	in := &paddle.CreateCustomerRequest{
		Email:      req.Email,
		CustomData: custom,
	}
	if req.Name != "" {
		in.Name = paddle.PtrTo(req.Name)
	}

	c, err := p.client.CustomersClient.CreateCustomer(ctx, in)
	if err != nil {
		return nil, p.fail("create_customer", err)
	}

	out := &Customer{ID: c.ID, Email: c.Email}
	if c.Name != nil {
		out.Name = *c.Name
	}
	return out, nil
}

func (p *Paddle) UpdateCustomer(context.Context, string, CustomerRequest) (*Customer, error) {
	return nil, p.unsupported("update_customer")
}

func (p *Paddle) DeleteCustomer(context.Context, string) error {
	return p.unsupported("delete_customer")
}

// CreateSubscription is not available: Paddle subscriptions are created by a
// completed checkout transaction.
func (p *Paddle) CreateSubscription(context.Context, SubscriptionRequest) (*RemoteSubscription, error) {
	return nil, p.unsupported("create_subscription")
}

func (p *Paddle) UpdateSubscription(context.Context, string, SubscriptionUpdate) (*RemoteSubscription, error) {
	return nil, p.unsupported("update_subscription")
}

func (p *Paddle) CancelSubscription(ctx context.Context, subscriptionID string, req CancelRequest) (*RemoteSubscription, error) {
	effective := paddle.EffectiveFromImmediately
	if req.AtPeriodEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}

	sub, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return nil, p.fail("cancel_subscription", err)
	}
	return mapPaddleSubscription(sub), nil
}

func (p *Paddle) ReactivateSubscription(context.Context, string, string) (*RemoteSubscription, error) {
	return nil, p.unsupported("reactivate_subscription")
}

func (p *Paddle) GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, p.fail("get_subscription", err)
	}
	return mapPaddleSubscription(sub), nil
}

func (p *Paddle) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceRef == "" {
		return nil, p.fail("create_checkout_session", fmt.Errorf("%w: price is required", ErrInvalidRequest))
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceRef,
		Quantity: 1,
	})

	custom := paddle.CustomData{}
	for k, v := range req.Metadata {
		custom[k] = v
	}

	in := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}
	if req.CustomerID != "" {
		in.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		in.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, in)
	if err != nil {
		return nil, p.fail("create_checkout_session", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, p.fail("create_checkout_session", ErrNoCheckoutURL)
	}

	// Paddle checkout links stay valid for a day
	expires := time.Now().UTC().Add(24 * time.Hour)
	return &CheckoutSession{ID: tx.ID, URL: *tx.Checkout.URL, ExpiresAt: &expires}, nil
}

func (p *Paddle) CreatePixCharge(context.Context, PixChargeRequest) (*PixCharge, error) {
	return nil, p.unsupported("create_pix_charge")
}

func (p *Paddle) GetPixCharge(context.Context, string) (*PixCharge, error) {
	return nil, p.unsupported("get_pix_charge")
}

func (p *Paddle) AttachPaymentMethod(context.Context, string, string, string) (*PaymentMethod, error) {
	return nil, p.unsupported("attach_payment_method")
}

func (p *Paddle) DetachPaymentMethod(context.Context, string) error {
	return p.unsupported("detach_payment_method")
}

func (p *Paddle) CreateInvoice(context.Context, InvoiceRequest) (*RemoteInvoice, error) {
	return nil, p.unsupported("create_invoice")
}

func (p *Paddle) FinalizeInvoice(context.Context, string) (*RemoteInvoice, error) {
	return nil, p.unsupported("finalize_invoice")
}

func (p *Paddle) PayInvoice(context.Context, string, string) (*RemoteInvoice, error) {
	return nil, p.unsupported("pay_invoice")
}

func (p *Paddle) Refund(context.Context, RefundRequest) (*Refund, error) {
	return nil, p.unsupported("refund")
}

// VerifyWebhook checks the Paddle-Signature header. The SDK verifier works on
// requests, so the payload is wrapped in one.
func (p *Paddle) VerifyWebhook(payload []byte, signature string) error {
	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return &SignatureVerificationError{Provider: ProviderPaddle, Err: err}
	}
	req.Header.Set(PaddleSignatureHeader, signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return &SignatureVerificationError{Provider: ProviderPaddle, Err: err}
	}
	if !valid {
		return &SignatureVerificationError{Provider: ProviderPaddle}
	}
	return nil
}

type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleEntity struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	BilledAt       *time.Time     `json:"billed_at"`
	Period         *struct {
		EndsAt time.Time `json:"ends_at"`
	} `json:"current_billing_period"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
	Details *struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
}

func (p *Paddle) ParseWebhook(payload []byte) (*Event, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if env.EventID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: event_id and event_type are required", ErrInvalidPayload)
	}

	evtType := mapPaddleEventType(env.EventType)
	if evtType == "" {
		p.logger.Debug("paddle webhook type not mapped", slog.String("type", env.EventType), slog.String("event_id", env.EventID))
		return nil, nil
	}

	var entity paddleEntity
	if err := json.Unmarshal(env.Data, &entity); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}

	data := EventData{
		CustomerID: entity.CustomerID,
		Status:     entity.Status,
		Currency:   entity.CurrencyCode,
		Metadata:   stringMap(entity.CustomData),
	}
	if strings.HasPrefix(env.EventType, "subscription.") {
		data.SubscriptionID = entity.ID
	} else {
		data.SubscriptionID = entity.SubscriptionID
		data.ChargeID = entity.ID
		data.PaidAt = entity.BilledAt
	}
	if entity.Period != nil {
		end := entity.Period.EndsAt
		data.PeriodEnd = &end
	}
	if entity.ScheduledChange != nil && entity.ScheduledChange.Action == "cancel" {
		data.CancelAtPeriod = true
	}
	if entity.Details != nil {
		if amount, err := strconv.ParseInt(entity.Details.Totals.GrandTotal, 10, 64); err == nil {
			data.Amount = amount
		}
	}

	return &Event{
		ID:         env.EventID,
		Type:       evtType,
		Provider:   ProviderPaddle,
		OccurredAt: env.OccurredAt,
		Data:       data,
		Raw:        payload,
	}, nil
}

func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCancelled
	case "transaction.completed":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return ""
	}
}

func mapPaddleSubscription(sub *paddle.Subscription) *RemoteSubscription {
	out := &RemoteSubscription{
		ID:         sub.ID,
		CustomerID: sub.CustomerID,
		Status:     mapPaddleStatus(string(sub.Status)),
	}
	if sub.CurrentBillingPeriod != nil {
		if end, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt); err == nil {
			out.CurrentPeriodEnd = &end
		}
	}
	if sub.ScheduledChange != nil && string(sub.ScheduledChange.Action) == "cancel" {
		out.CancelAtPeriodEnd = true
	}
	return out
}

func mapPaddleStatus(status string) SubscriptionStatus {
	switch strings.ToLower(status) {
	case "trialing":
		return SubscriptionTrialing
	case "active":
		return SubscriptionActive
	case "past_due":
		return SubscriptionPastDue
	case "paused":
		return SubscriptionPaused
	case "canceled", "cancelled":
		return SubscriptionCanceled
	default:
		return SubscriptionStatus(status)
	}
}

func stringMap(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
