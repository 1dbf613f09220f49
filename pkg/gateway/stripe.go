package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/subscription"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// stripeAPI lists the Stripe calls the adapter makes.
// Production uses the stripe-go resource packages; tests swap in fakes.
type stripeAPI struct {
	newCustomer    func(*stripe.CustomerParams) (*stripe.Customer, error)
	updateCustomer func(string, *stripe.CustomerParams) (*stripe.Customer, error)
	deleteCustomer func(string, *stripe.CustomerParams) (*stripe.Customer, error)

	newSubscription    func(*stripe.SubscriptionParams) (*stripe.Subscription, error)
	getSubscription    func(string, *stripe.SubscriptionParams) (*stripe.Subscription, error)
	updateSubscription func(string, *stripe.SubscriptionParams) (*stripe.Subscription, error)
	cancelSubscription func(string, *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)

	newCheckoutSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

	newPaymentIntent func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getPaymentIntent func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)

	attachPaymentMethod func(string, *stripe.PaymentMethodAttachParams) (*stripe.PaymentMethod, error)
	detachPaymentMethod func(string, *stripe.PaymentMethodDetachParams) (*stripe.PaymentMethod, error)

	newInvoice      func(*stripe.InvoiceParams) (*stripe.Invoice, error)
	newInvoiceItem  func(*stripe.InvoiceItemParams) (*stripe.InvoiceItem, error)
	finalizeInvoice func(string, *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error)
	payInvoice      func(string, *stripe.InvoicePayParams) (*stripe.Invoice, error)

	newRefund func(*stripe.RefundParams) (*stripe.Refund, error)
}

func defaultStripeAPI() stripeAPI {
	return stripeAPI{
		newCustomer:         customer.New,
		updateCustomer:      customer.Update,
		deleteCustomer:      customer.Del,
		newSubscription:     subscription.New,
		getSubscription:     subscription.Get,
		updateSubscription:  subscription.Update,
		cancelSubscription:  subscription.Cancel,
		newCheckoutSession:  stripesession.New,
		newPaymentIntent:    paymentintent.New,
		getPaymentIntent:    paymentintent.Get,
		attachPaymentMethod: paymentmethod.Attach,
		detachPaymentMethod: paymentmethod.Detach,
		newInvoice:          invoice.New,
		newInvoiceItem:      invoiceitem.New,
		finalizeInvoice:     invoice.FinalizeInvoice,
		payInvoice:          invoice.Pay,
		newRefund:           refund.New,
	}
}

// Stripe implements Provider on top of stripe-go.
type Stripe struct {
	api    stripeAPI
	cfg    StripeConfig
	logger *slog.Logger
}

// StripeOption configures the Stripe adapter.
type StripeOption func(*Stripe)

// WithStripeLogger sets the adapter logger.
func WithStripeLogger(logger *slog.Logger) StripeOption {
	return func(s *Stripe) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withStripeAPI(api stripeAPI) StripeOption {
	return func(s *Stripe) {
		s.api = api
	}
}

// NewStripe creates the Stripe adapter. The secret key is installed globally
// on the stripe-go package, so only one Stripe account is usable per process.
func NewStripe(cfg StripeConfig, opts ...StripeOption) (*Stripe, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = stripewebhook.DefaultTolerance
	}

	stripe.Key = strings.TrimSpace(cfg.SecretKey)

	s := &Stripe{
		api:    defaultStripeAPI(),
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Stripe) Name() string { return ProviderStripe }

// fail converts a stripe-go error into a GatewayError.
func (s *Stripe) fail(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return NewGatewayError(ProviderStripe, op, 0, err)
	}

	cause := err
	switch {
	case se.HTTPStatusCode == http.StatusNotFound:
		cause = fmt.Errorf("%w: %s", ErrRemoteNotFound, se.Msg)
	case se.Type == stripe.ErrorTypeCard:
		cause = fmt.Errorf("%w: %s", ErrPaymentDeclined, se.Msg)
	case se.Type == stripe.ErrorTypeInvalidRequest:
		cause = fmt.Errorf("%w: %s", ErrInvalidRequest, se.Msg)
	}

	ge := NewGatewayError(ProviderStripe, op, se.HTTPStatusCode, cause)
	ge.Code = string(se.Code)
	return ge
}

type metadataAdder interface {
	AddMetadata(key, value string)
}

func withMetadata(p metadataAdder, meta map[string]string) {
	for k, v := range meta {
		p.AddMetadata(k, v)
	}
}

func withKey(p *stripe.Params, key string) {
	if key != "" {
		p.SetIdempotencyKey(key)
	}
}

func (s *Stripe) CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(req.Email)}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx
	withMetadata(params, req.Metadata)
	if req.TenantID != "" {
		params.AddMetadata(MetaTenantID, req.TenantID)
	}
	withKey(&params.Params, req.IdempotencyKey)

	c, err := s.api.newCustomer(params)
	if err != nil {
		return nil, s.fail("create_customer", err)
	}
	return &Customer{ID: c.ID, Email: c.Email, Name: c.Name}, nil
}

func (s *Stripe) UpdateCustomer(ctx context.Context, customerID string, req CustomerRequest) (*Customer, error) {
	params := &stripe.CustomerParams{}
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx
	withMetadata(params, req.Metadata)
	withKey(&params.Params, req.IdempotencyKey)

	c, err := s.api.updateCustomer(customerID, params)
	if err != nil {
		return nil, s.fail("update_customer", err)
	}
	return &Customer{ID: c.ID, Email: c.Email, Name: c.Name}, nil
}

func (s *Stripe) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if _, err := s.api.deleteCustomer(customerID, params); err != nil {
		return s.fail("delete_customer", err)
	}
	return nil
}

func (s *Stripe) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*RemoteSubscription, error) {
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}
	if req.PriceRef == "" {
		return nil, fmt.Errorf("%w: stripe price is required for plan %q", ErrInvalidRequest, req.PlanID)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceRef)},
		},
		PaymentBehavior: stripe.String("error_if_incomplete"),
	}
	if req.PaymentMethodRef != "" {
		params.DefaultPaymentMethod = stripe.String(req.PaymentMethodRef)
	}
	params.Context = ctx
	params.AddExpand("latest_invoice")
	withMetadata(params, req.Metadata)
	withKey(&params.Params, req.IdempotencyKey)

	sub, err := s.api.newSubscription(params)
	if err != nil {
		return nil, s.fail("create_subscription", err)
	}
	return mapStripeSubscription(sub), nil
}

func (s *Stripe) UpdateSubscription(ctx context.Context, subscriptionID string, req SubscriptionUpdate) (*RemoteSubscription, error) {
	current, err := s.api.getSubscription(subscriptionID, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, s.fail("update_subscription", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, s.fail("update_subscription", fmt.Errorf("%w: subscription %s has no items", ErrInvalidRequest, subscriptionID))
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(current.Items.Data[0].ID), Price: stripe.String(req.PriceRef)},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	withMetadata(params, req.Metadata)
	withKey(&params.Params, req.IdempotencyKey)

	sub, err := s.api.updateSubscription(subscriptionID, params)
	if err != nil {
		return nil, s.fail("update_subscription", err)
	}
	return mapStripeSubscription(sub), nil
}

func (s *Stripe) CancelSubscription(ctx context.Context, subscriptionID string, req CancelRequest) (*RemoteSubscription, error) {
	if req.AtPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		withKey(&params.Params, req.IdempotencyKey)

		sub, err := s.api.updateSubscription(subscriptionID, params)
		if err != nil {
			return nil, s.fail("cancel_subscription", err)
		}
		return mapStripeSubscription(sub), nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	withKey(&params.Params, req.IdempotencyKey)

	sub, err := s.api.cancelSubscription(subscriptionID, params)
	if err != nil {
		return nil, s.fail("cancel_subscription", err)
	}
	return mapStripeSubscription(sub), nil
}

func (s *Stripe) ReactivateSubscription(ctx context.Context, subscriptionID string, idempotencyKey string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx
	withKey(&params.Params, idempotencyKey)

	sub, err := s.api.updateSubscription(subscriptionID, params)
	if err != nil {
		return nil, s.fail("reactivate_subscription", err)
	}
	return mapStripeSubscription(sub), nil
}

func (s *Stripe) GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := s.api.getSubscription(subscriptionID, params)
	if err != nil {
		return nil, s.fail("get_subscription", err)
	}
	return mapStripeSubscription(sub), nil
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceRef), Quantity: stripe.Int64(1)},
		},
	}
	switch {
	case req.CustomerID != "":
		params.Customer = stripe.String(req.CustomerID)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	withMetadata(params, req.Metadata)
	withKey(&params.Params, req.IdempotencyKey)

	session, err := s.api.newCheckoutSession(params)
	if err != nil {
		return nil, s.fail("create_checkout_session", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return nil, NewGatewayError(ProviderStripe, "create_checkout_session", 0, ErrNoCheckoutURL)
	}

	out := &CheckoutSession{ID: session.ID, URL: session.URL}
	if session.ExpiresAt > 0 {
		t := time.Unix(session.ExpiresAt, 0).UTC()
		out.ExpiresAt = &t
	}
	return out, nil
}

func (s *Stripe) CreatePixCharge(ctx context.Context, req PixChargeRequest) (*PixCharge, error) {
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	expiresIn := req.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultPixExpiry
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("pix"),
		},
		PaymentMethodOptions: &stripe.PaymentIntentPaymentMethodOptionsParams{
			Pix: &stripe.PaymentIntentPaymentMethodOptionsPixParams{
				ExpiresAfterSeconds: stripe.Int64(int64(expiresIn / time.Second)),
			},
		},
		Confirm: stripe.Bool(true),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	withMetadata(params, req.Metadata)
	withKey(&params.Params, req.IdempotencyKey)

	pi, err := s.api.newPaymentIntent(params)
	if err != nil {
		return nil, s.fail("create_pix_charge", err)
	}
	return mapStripePix(pi, time.Now().Add(expiresIn)), nil
}

func (s *Stripe) GetPixCharge(ctx context.Context, chargeID string) (*PixCharge, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.api.getPaymentIntent(chargeID, params)
	if err != nil {
		return nil, s.fail("get_pix_charge", err)
	}
	return mapStripePix(pi, time.Time{}), nil
}

func (s *Stripe) AttachPaymentMethod(ctx context.Context, customerID, token, idempotencyKey string) (*PaymentMethod, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	withKey(&params.Params, idempotencyKey)

	pm, err := s.api.attachPaymentMethod(token, params)
	if err != nil {
		return nil, s.fail("attach_payment_method", err)
	}

	out := &PaymentMethod{ID: pm.ID, CustomerID: customerID, Type: string(pm.Type)}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
	}
	return out, nil
}

func (s *Stripe) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := s.api.detachPaymentMethod(paymentMethodID, params); err != nil {
		return s.fail("detach_payment_method", err)
	}
	return nil
}

func (s *Stripe) CreateInvoice(ctx context.Context, req InvoiceRequest) (*RemoteInvoice, error) {
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceParams{
		Customer:    stripe.String(req.CustomerID),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		AutoAdvance: stripe.Bool(false),
	}
	params.Context = ctx
	withMetadata(params, req.Metadata)
	withKey(&params.Params, req.IdempotencyKey)

	inv, err := s.api.newInvoice(params)
	if err != nil {
		return nil, s.fail("create_invoice", err)
	}

	for i, item := range req.Items {
		ip := &stripe.InvoiceItemParams{
			Customer:    stripe.String(req.CustomerID),
			Invoice:     stripe.String(inv.ID),
			Amount:      stripe.Int64(item.Quantity * item.UnitAmount),
			Currency:    stripe.String(strings.ToLower(req.Currency)),
			Description: stripe.String(item.Description),
		}
		ip.Context = ctx
		withKey(&ip.Params, fmt.Sprintf("%s:item:%d", req.IdempotencyKey, i))
		if _, err := s.api.newInvoiceItem(ip); err != nil {
			return nil, s.fail("create_invoice", err)
		}
	}

	return mapStripeInvoice(inv), nil
}

func (s *Stripe) FinalizeInvoice(ctx context.Context, invoiceID string) (*RemoteInvoice, error) {
	params := &stripe.InvoiceFinalizeInvoiceParams{}
	params.Context = ctx

	inv, err := s.api.finalizeInvoice(invoiceID, params)
	if err != nil {
		return nil, s.fail("finalize_invoice", err)
	}
	return mapStripeInvoice(inv), nil
}

func (s *Stripe) PayInvoice(ctx context.Context, invoiceID, idempotencyKey string) (*RemoteInvoice, error) {
	params := &stripe.InvoicePayParams{}
	params.Context = ctx
	withKey(&params.Params, idempotencyKey)

	inv, err := s.api.payInvoice(invoiceID, params)
	if err != nil {
		return nil, s.fail("pay_invoice", err)
	}
	return mapStripeInvoice(inv), nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	params := &stripe.RefundParams{}
	if strings.HasPrefix(req.ChargeID, "pi_") {
		params.PaymentIntent = stripe.String(req.ChargeID)
	} else {
		params.Charge = stripe.String(req.ChargeID)
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	params.Context = ctx
	withKey(&params.Params, req.IdempotencyKey)

	r, err := s.api.newRefund(params)
	if err != nil {
		return nil, s.fail("refund", err)
	}
	return &Refund{ID: r.ID, ChargeID: req.ChargeID, Amount: r.Amount, Status: string(r.Status)}, nil
}

func (s *Stripe) VerifyWebhook(payload []byte, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return &SignatureVerificationError{Provider: ProviderStripe, Err: errors.New("missing Stripe-Signature header")}
	}
	if err := stripewebhook.ValidatePayloadWithTolerance(payload, signature, s.cfg.WebhookSecret, s.cfg.SignatureTolerance); err != nil {
		return &SignatureVerificationError{Provider: ProviderStripe, Err: err}
	}
	return nil
}

// Stripe webhook payloads are decoded into local types because only a few
// fields are needed and their location differs between API versions.
type stripeEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSubscriptionObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoiceObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Status       string            `json:"status"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
	Currency     string            `json:"currency"`
	PeriodEnd    int64             `json:"period_end"`
	Metadata     map[string]string `json:"metadata"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	LastFinalizationError *struct {
		Message string `json:"message"`
	} `json:"last_finalization_error"`
}

type stripePaymentIntentObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	Status             string            `json:"status"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	LatestCharge       string            `json:"latest_charge"`
	Created            int64             `json:"created"`
	Metadata           map[string]string `json:"metadata"`
	LastPaymentError   *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeChargeObject struct {
	ID             string            `json:"id"`
	Customer       string            `json:"customer"`
	PaymentIntent  string            `json:"payment_intent"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *Stripe) ParseWebhook(payload []byte) (*Event, error) {
	var env stripeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: id and type are required", ErrInvalidPayload)
	}

	evt := &Event{
		ID:         env.ID,
		Provider:   ProviderStripe,
		OccurredAt: time.Unix(env.Created, 0).UTC(),
		Raw:        payload,
	}

	var err error
	switch env.Type {
	case "customer.subscription.created":
		evt.Type = EventSubscriptionCreated
		evt.Data, err = decodeStripeSubscription(env.Data.Object)
	case "customer.subscription.updated":
		evt.Type = EventSubscriptionUpdated
		evt.Data, err = decodeStripeSubscription(env.Data.Object)
	case "customer.subscription.deleted":
		evt.Type = EventSubscriptionCancelled
		evt.Data, err = decodeStripeSubscription(env.Data.Object)
	case "invoice.paid":
		evt.Type = EventInvoicePaid
		evt.Data, err = decodeStripeInvoice(env.Data.Object)
	case "invoice.payment_failed":
		evt.Type = EventInvoicePaymentFailed
		evt.Data, err = decodeStripeInvoice(env.Data.Object)
	case "payment_intent.succeeded", "payment_intent.canceled", "payment_intent.payment_failed":
		var pi stripePaymentIntentObject
		if err := json.Unmarshal(env.Data.Object, &pi); err != nil {
			return nil, errors.Join(ErrInvalidPayload, err)
		}
		evt.Type, evt.Data = mapStripeIntentEvent(env.Type, pi)
		if evt.Type == "" {
			return nil, nil
		}
	case "charge.refunded":
		var ch stripeChargeObject
		if err := json.Unmarshal(env.Data.Object, &ch); err != nil {
			return nil, errors.Join(ErrInvalidPayload, err)
		}
		evt.Type = EventPaymentRefunded
		evt.Data = EventData{
			CustomerID: ch.Customer,
			ChargeID:   firstNonEmpty(ch.PaymentIntent, ch.ID),
			Amount:     ch.AmountRefunded,
			Currency:   strings.ToUpper(ch.Currency),
			Metadata:   ch.Metadata,
		}
	default:
		s.logger.Debug("stripe webhook type not mapped", slog.String("type", env.Type), slog.String("event_id", env.ID))
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}

	return evt, nil
}

func decodeStripeSubscription(raw json.RawMessage) (EventData, error) {
	var sub stripeSubscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return EventData{}, err
	}

	data := EventData{
		SubscriptionID: sub.ID,
		CustomerID:     sub.Customer,
		Status:         sub.Status,
		CancelAtPeriod: sub.CancelAtPeriodEnd,
		Metadata:       sub.Metadata,
	}
	end := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		end = sub.Items.Data[0].CurrentPeriodEnd
	}
	data.PeriodEnd = unixPtr(end)
	return data, nil
}

func decodeStripeInvoice(raw json.RawMessage) (EventData, error) {
	var inv stripeInvoiceObject
	if err := json.Unmarshal(raw, &inv); err != nil {
		return EventData{}, err
	}

	meta := inv.Metadata
	if len(meta) == 0 {
		meta = inv.Parent.SubscriptionDetails.Metadata
	}

	data := EventData{
		SubscriptionID: firstNonEmpty(inv.Parent.SubscriptionDetails.Subscription, inv.Subscription),
		CustomerID:     inv.Customer,
		InvoiceID:      inv.ID,
		ChargeID:       inv.ID,
		Status:         inv.Status,
		Amount:         inv.AmountPaid,
		Currency:       strings.ToUpper(inv.Currency),
		PaidAt:         unixPtr(inv.StatusTransitions.PaidAt),
		Metadata:       meta,
	}
	if data.Amount == 0 {
		data.Amount = inv.AmountDue
	}
	if len(inv.Lines.Data) > 0 {
		data.PeriodEnd = unixPtr(inv.Lines.Data[0].Period.End)
	}
	if inv.LastFinalizationError != nil {
		data.FailureReason = inv.LastFinalizationError.Message
	}
	return data, nil
}

func mapStripeIntentEvent(stripeType string, pi stripePaymentIntentObject) (EventType, EventData) {
	data := EventData{
		CustomerID: pi.Customer,
		ChargeID:   pi.ID,
		Status:     pi.Status,
		Amount:     pi.Amount,
		Currency:   strings.ToUpper(pi.Currency),
		Metadata:   pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		data.FailureReason = pi.LastPaymentError.Message
	}

	isPix := false
	for _, t := range pi.PaymentMethodTypes {
		if t == "pix" {
			isPix = true
			break
		}
	}

	switch stripeType {
	case "payment_intent.succeeded":
		if !isPix {
			// card renewals arrive as invoice.paid
			return "", data
		}
		return EventPixReceived, data
	case "payment_intent.canceled":
		if !isPix {
			return "", data
		}
		return EventPixExpired, data
	default:
		return EventPaymentFailed, data
	}
}

func mapStripeSubscription(sub *stripe.Subscription) *RemoteSubscription {
	out := &RemoteSubscription{
		ID:                sub.ID,
		Status:            SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		out.CurrentPeriodEnd = unixPtr(sub.Items.Data[0].CurrentPeriodEnd)
	}
	if inv := sub.LatestInvoice; inv != nil && inv.ID != "" {
		out.LatestCharge = &Charge{
			ID:        inv.ID,
			InvoiceID: inv.ID,
			Amount:    inv.AmountPaid,
			Currency:  strings.ToUpper(string(inv.Currency)),
			Paid:      inv.Status == stripe.InvoiceStatusPaid,
		}
		if out.LatestCharge.Paid && inv.StatusTransitions != nil {
			out.LatestCharge.PaidAt = unixPtr(inv.StatusTransitions.PaidAt)
		}
		if !out.LatestCharge.Paid {
			out.LatestCharge.FailureReason = "invoice " + string(inv.Status)
		}
	}
	return out
}

func mapStripeInvoice(inv *stripe.Invoice) *RemoteInvoice {
	return &RemoteInvoice{
		ID:         inv.ID,
		Status:     InvoiceStatus(inv.Status),
		Total:      inv.Total,
		AmountPaid: inv.AmountPaid,
		Currency:   strings.ToUpper(string(inv.Currency)),
		ChargeID:   inv.ID,
		HostedURL:  inv.HostedInvoiceURL,
	}
}

func mapStripePix(pi *stripe.PaymentIntent, fallbackExpiry time.Time) *PixCharge {
	out := &PixCharge{
		ID:        pi.ID,
		Amount:    pi.Amount,
		Currency:  strings.ToUpper(string(pi.Currency)),
		ExpiresAt: fallbackExpiry,
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = PixPaid
	case stripe.PaymentIntentStatusCanceled:
		out.Status = PixCancelled
	default:
		out.Status = PixPending
	}

	if pi.NextAction != nil && pi.NextAction.PixDisplayQRCode != nil {
		qr := pi.NextAction.PixDisplayQRCode
		out.QRPayload = qr.Data
		out.CopyPaste = qr.Data
		out.QRImage = qr.ImageURLPNG
		if qr.ExpiresAt > 0 {
			out.ExpiresAt = time.Unix(qr.ExpiresAt, 0).UTC()
		}
	}
	if out.Status == PixPending && !out.ExpiresAt.IsZero() && time.Now().After(out.ExpiresAt) {
		out.Status = PixExpired
	}
	return out
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
