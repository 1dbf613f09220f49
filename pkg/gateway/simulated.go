package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/qrcode"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// Simulated is an in-process gateway for development and tests.
// Remote ids are derived from idempotency keys, so repeating a create with the
// same key returns the resource created the first time.
type Simulated struct {
	cfg SimulatedConfig
	now func() time.Time

	mu             sync.Mutex
	declineReason  string
	customers      map[string]*Customer
	subscriptions  map[string]*RemoteSubscription
	pixCharges     map[string]*PixCharge
	invoices       map[string]*RemoteInvoice
	paymentMethods map[string]*PaymentMethod
	refunds        map[string]*Refund
	calls          map[string]int
}

// SimulatedOption configures the simulated gateway.
type SimulatedOption func(*Simulated)

// WithSimulatedClock overrides the time source.
func WithSimulatedClock(now func() time.Time) SimulatedOption {
	return func(s *Simulated) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDecline makes every card charge fail with reason.
func WithDecline(reason string) SimulatedOption {
	return func(s *Simulated) {
		s.declineReason = reason
	}
}

// NewSimulated creates the simulated gateway.
func NewSimulated(cfg SimulatedConfig, opts ...SimulatedOption) *Simulated {
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = "whsec_simulated"
	}
	if cfg.PixKey == "" {
		cfg.PixKey = "billing@example.com"
	}
	if cfg.MerchantName == "" {
		cfg.MerchantName = "Billing"
	}
	if cfg.MerchantCity == "" {
		cfg.MerchantCity = "Sao Paulo"
	}

	s := &Simulated{
		cfg:            cfg,
		now:            time.Now,
		customers:      make(map[string]*Customer),
		subscriptions:  make(map[string]*RemoteSubscription),
		pixCharges:     make(map[string]*PixCharge),
		invoices:       make(map[string]*RemoteInvoice),
		paymentMethods: make(map[string]*PaymentMethod),
		refunds:        make(map[string]*Refund),
		calls:          make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Name() string { return ProviderSimulated }

// SetDecline switches card declines on (non-empty reason) or off.
func (s *Simulated) SetDecline(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declineReason = reason
}

// Calls returns how many times an operation actually created something remotely.
// Replays resolved by idempotency key are not counted.
func (s *Simulated) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func simID(prefix, key string) string {
	if key == "" {
		return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	return prefix + "_" + IdempotencyKey(prefix, key)[:16]
}

func (s *Simulated) CreateCustomer(_ context.Context, req CustomerRequest) (*Customer, error) {
	if req.Email == "" {
		return nil, fmt.Errorf("%w: customer email is required", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := simID("cus", req.IdempotencyKey)
	if c, ok := s.customers[id]; ok {
		return copyOf(c), nil
	}

	c := &Customer{ID: id, Email: req.Email, Name: req.Name}
	s.customers[id] = c
	s.calls["create_customer"]++
	return copyOf(c), nil
}

func (s *Simulated) UpdateCustomer(_ context.Context, customerID string, req CustomerRequest) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	if req.Email != "" {
		c.Email = req.Email
	}
	if req.Name != "" {
		c.Name = req.Name
	}
	return copyOf(c), nil
}

func (s *Simulated) DeleteCustomer(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[customerID]; !ok {
		return ErrRemoteNotFound
	}
	delete(s.customers, customerID)
	return nil
}

func (s *Simulated) CreateSubscription(_ context.Context, req SubscriptionRequest) (*RemoteSubscription, error) {
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[req.CustomerID]; !ok {
		return nil, fmt.Errorf("customer %q: %w", req.CustomerID, ErrRemoteNotFound)
	}

	id := simID("sub", req.IdempotencyKey)
	if sub, ok := s.subscriptions[id]; ok {
		return copySubscription(sub), nil
	}

	now := s.now().UTC()
	sub := &RemoteSubscription{
		ID:         id,
		CustomerID: req.CustomerID,
		LatestCharge: &Charge{
			ID:       simID("ch", req.IdempotencyKey),
			Amount:   req.Amount,
			Currency: req.Currency,
		},
	}

	if s.declineReason != "" {
		sub.Status = SubscriptionIncomplete
		sub.LatestCharge.FailureReason = s.declineReason
	} else {
		end := advance(now, req.Interval)
		sub.Status = SubscriptionActive
		sub.CurrentPeriodEnd = &end
		sub.LatestCharge.Paid = true
		sub.LatestCharge.PaidAt = &now
	}

	s.subscriptions[id] = sub
	s.calls["create_subscription"]++
	return copySubscription(sub), nil
}

func (s *Simulated) UpdateSubscription(_ context.Context, subscriptionID string, _ SubscriptionUpdate) (*RemoteSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	s.calls["update_subscription"]++
	return copySubscription(sub), nil
}

func (s *Simulated) CancelSubscription(_ context.Context, subscriptionID string, req CancelRequest) (*RemoteSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	if req.AtPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = SubscriptionCanceled
	}
	s.calls["cancel_subscription"]++
	return copySubscription(sub), nil
}

func (s *Simulated) ReactivateSubscription(_ context.Context, subscriptionID string, _ string) (*RemoteSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	sub.CancelAtPeriodEnd = false
	if sub.Status == SubscriptionCanceled || sub.Status == SubscriptionPastDue || sub.Status == SubscriptionUnpaid {
		sub.Status = SubscriptionActive
	}
	return copySubscription(sub), nil
}

func (s *Simulated) GetSubscription(_ context.Context, subscriptionID string) (*RemoteSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	return copySubscription(sub), nil
}

func (s *Simulated) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	id := simID("cs", req.IdempotencyKey)
	expires := s.now().UTC().Add(24 * time.Hour)
	return &CheckoutSession{
		ID:        id,
		URL:       "https://checkout.simulated.local/" + id,
		ExpiresAt: &expires,
	}, nil
}

func (s *Simulated) CreatePixCharge(_ context.Context, req PixChargeRequest) (*PixCharge, error) {
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: pix amount must be positive", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := simID("pix", req.IdempotencyKey)
	if ch, ok := s.pixCharges[id]; ok {
		return copyOf(ch), nil
	}

	expiresIn := req.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultPixExpiry
	}

	payload, image, err := qrcode.GeneratePix(qrcode.PixPayload{
		Key:          s.cfg.PixKey,
		MerchantName: s.cfg.MerchantName,
		MerchantCity: s.cfg.MerchantCity,
		Amount:       req.Amount,
		TxID:         strings.ToUpper(strings.TrimPrefix(id, "pix_")),
		Description:  req.Description,
	}, qrcode.DefaultSize)
	if err != nil {
		return nil, err
	}

	ch := &PixCharge{
		ID:        id,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    PixPending,
		QRPayload: payload,
		CopyPaste: payload,
		QRImage:   image,
		ExpiresAt: s.now().UTC().Add(expiresIn),
	}
	s.pixCharges[id] = ch
	s.calls["create_pix_charge"]++
	return copyOf(ch), nil
}

func (s *Simulated) GetPixCharge(_ context.Context, chargeID string) (*PixCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pixCharges[chargeID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	if ch.Status == PixPending && !s.now().Before(ch.ExpiresAt) {
		ch.Status = PixExpired
	}
	return copyOf(ch), nil
}

// PayPix marks a pending PIX charge as paid, as if the payer scanned it.
func (s *Simulated) PayPix(chargeID string) (*PixCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pixCharges[chargeID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	now := s.now().UTC()
	ch.Status = PixPaid
	ch.PaidAt = &now
	return copyOf(ch), nil
}

func (s *Simulated) AttachPaymentMethod(_ context.Context, customerID, token, idempotencyKey string) (*PaymentMethod, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: payment method token is required", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := idempotencyKey
	if key == "" {
		key = customerID + ":" + token
	}
	id := simID("pm", key)
	if pm, ok := s.paymentMethods[id]; ok {
		return copyOf(pm), nil
	}

	last4 := token
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	pm := &PaymentMethod{ID: id, CustomerID: customerID, Type: "card", Brand: "visa", Last4: last4}
	s.paymentMethods[id] = pm
	return copyOf(pm), nil
}

func (s *Simulated) DetachPaymentMethod(_ context.Context, paymentMethodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paymentMethods[paymentMethodID]; !ok {
		return ErrRemoteNotFound
	}
	delete(s.paymentMethods, paymentMethodID)
	return nil
}

func (s *Simulated) CreateInvoice(_ context.Context, req InvoiceRequest) (*RemoteInvoice, error) {
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := simID("in", req.IdempotencyKey)
	if inv, ok := s.invoices[id]; ok {
		return copyOf(inv), nil
	}

	var total int64
	for _, item := range req.Items {
		total += item.Quantity * item.UnitAmount
	}
	inv := &RemoteInvoice{ID: id, Status: InvoiceDraft, Total: total, Currency: req.Currency}
	s.invoices[id] = inv
	s.calls["create_invoice"]++
	return copyOf(inv), nil
}

func (s *Simulated) FinalizeInvoice(_ context.Context, invoiceID string) (*RemoteInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	if inv.Status == InvoiceDraft {
		inv.Status = InvoiceOpen
	}
	return copyOf(inv), nil
}

func (s *Simulated) PayInvoice(_ context.Context, invoiceID, _ string) (*RemoteInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	if inv.Status == InvoicePaid {
		return copyOf(inv), nil
	}
	if s.declineReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, s.declineReason)
	}
	inv.Status = InvoicePaid
	inv.AmountPaid = inv.Total
	inv.ChargeID = simID("ch", invoiceID)
	return copyOf(inv), nil
}

func (s *Simulated) Refund(_ context.Context, req RefundRequest) (*Refund, error) {
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := simID("re", req.IdempotencyKey)
	if r, ok := s.refunds[id]; ok {
		return copyOf(r), nil
	}
	r := &Refund{ID: id, ChargeID: req.ChargeID, Amount: req.Amount, Status: "succeeded"}
	s.refunds[id] = r
	s.calls["refund"]++
	return copyOf(r), nil
}

// simulatedEnvelope is the wire format of simulated webhooks.
type simulatedEnvelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

func (s *Simulated) VerifyWebhook(payload []byte, signature string) error {
	sig, err := webhook.ParseSignatureHeader(signature)
	if err != nil {
		return &SignatureVerificationError{Provider: s.Name(), Err: err}
	}
	if err := webhook.VerifySignature(s.cfg.WebhookSecret, payload, sig, s.cfg.SignatureTolerance, s.now()); err != nil {
		return &SignatureVerificationError{Provider: s.Name(), Err: err}
	}
	return nil
}

func (s *Simulated) ParseWebhook(payload []byte) (*Event, error) {
	var env simulatedEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: id and type are required", ErrInvalidPayload)
	}

	evtType := EventType(env.Type)
	if !evtType.Valid() {
		return nil, nil
	}

	return &Event{
		ID:         env.ID,
		Type:       evtType,
		Provider:   s.Name(),
		OccurredAt: env.CreatedAt,
		Data:       env.Data,
		Raw:        payload,
	}, nil
}

// BuildWebhook encodes and signs a simulated webhook delivery.
// It returns the raw body and the X-Billing-Signature header value.
func (s *Simulated) BuildWebhook(eventID string, evtType EventType, data EventData) ([]byte, string, error) {
	if eventID == "" {
		eventID = "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	payload, err := json.Marshal(simulatedEnvelope{
		ID:        eventID,
		Type:      string(evtType),
		CreatedAt: s.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return nil, "", err
	}
	sig, err := webhook.SignPayload(s.cfg.WebhookSecret, payload, s.now())
	if err != nil {
		return nil, "", err
	}
	return payload, sig.String(), nil
}

// advance moves t one interval ahead, clamping the day to the end of the target month.
func advance(t time.Time, interval Interval) time.Time {
	months := 1
	if interval == IntervalYear {
		months = 12
	}
	y, m, d := t.Date()
	last := time.Date(y, m+time.Month(months)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	return time.Date(y, m+time.Month(months), min(d, last), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func copyOf[T any](v *T) *T {
	c := *v
	return &c
}

func copySubscription(sub *RemoteSubscription) *RemoteSubscription {
	c := *sub
	if sub.LatestCharge != nil {
		c.LatestCharge = copyOf(sub.LatestCharge)
	}
	return &c
}
