package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// ResilienceConfig bounds every outbound gateway call.
type ResilienceConfig struct {
	Timeout              time.Duration `env:"BILLING_GATEWAY_TIMEOUT" envDefault:"10s"`
	MaxRetries           uint64        `env:"BILLING_GATEWAY_MAX_RETRIES" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"BILLING_GATEWAY_RETRY_INITIAL_INTERVAL" envDefault:"200ms"`
	RetryMaxInterval     time.Duration `env:"BILLING_GATEWAY_RETRY_MAX_INTERVAL" envDefault:"5s"`
	BreakerFailures      int           `env:"BILLING_GATEWAY_BREAKER_FAILURES" envDefault:"5"`
	BreakerRecovery      time.Duration `env:"BILLING_GATEWAY_BREAKER_RECOVERY" envDefault:"30s"`
}

// ResilienceOption configures the resilience decorator.
type ResilienceOption func(*resilientProvider)

// WithResilienceLogger sets the logger used to report retries and open circuits.
func WithResilienceLogger(logger *slog.Logger) ResilienceOption {
	return func(r *resilientProvider) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBreaker replaces the circuit breaker, mainly for tests.
func WithBreaker(cb *webhook.CircuitBreaker) ResilienceOption {
	return func(r *resilientProvider) {
		if cb != nil {
			r.breaker = cb
		}
	}
}

type resilientProvider struct {
	next    Provider
	cfg     ResilienceConfig
	breaker *webhook.CircuitBreaker
	logger  *slog.Logger
}

// WithResilience decorates p so every remote call:
//   - runs under a bounded timeout; a timeout is reported as GatewayError.Timeout
//   - passes through a circuit breaker that opens on repeated outages
//   - is retried with exponential backoff only when it carries an idempotency key
//     and failed with a retryable error
//
// Webhook verification and parsing are local and pass straight through.
func WithResilience(p Provider, cfg ResilienceConfig, opts ...ResilienceOption) Provider {
	if p == nil {
		panic("gateway: provider cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	r := &resilientProvider{
		next:    p,
		cfg:     cfg,
		breaker: webhook.NewCircuitBreaker(cfg.BreakerFailures, 2, cfg.BreakerRecovery),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *resilientProvider) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.cfg.RetryInitialInterval > 0 {
		b.InitialInterval = r.cfg.RetryInitialInterval
	}
	if r.cfg.RetryMaxInterval > 0 {
		b.MaxInterval = r.cfg.RetryMaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)
}

// call runs fn through timeout, breaker and (when retry is true) backoff.
func call[T any](ctx context.Context, r *resilientProvider, op string, retry bool, fn func(context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		var result T

		err := r.breaker.Do(func() error {
			cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()

			v, err := fn(cctx)
			if err != nil {
				ge := NewGatewayError(r.next.Name(), op, 0, err)
				if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					ge.Timeout = true
					ge.Retryable = true
				}
				return ge
			}
			result = v
			return nil
		}, IsRetryable)

		if err == nil {
			return result, nil
		}

		if errors.Is(err, webhook.ErrCircuitOpen) {
			r.logger.WarnContext(ctx, "gateway circuit open", slog.String("provider", r.next.Name()), slog.String("op", op))
			return result, backoff.Permanent(NewGatewayError(r.next.Name(), op, 0, ErrCircuitOpen))
		}

		if !retry || !IsRetryable(err) {
			return result, backoff.Permanent(err)
		}

		r.logger.WarnContext(ctx, "gateway call failed, retrying",
			slog.String("provider", r.next.Name()),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return result, err
	}

	result, err := backoff.RetryWithData(attempt, r.newBackOff(ctx))
	if err != nil {
		return result, NewGatewayError(r.next.Name(), op, 0, err)
	}
	return result, nil
}

func (r *resilientProvider) Name() string { return r.next.Name() }

func (r *resilientProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	return call(ctx, r, "create_customer", req.IdempotencyKey != "", func(ctx context.Context) (*Customer, error) {
		return r.next.CreateCustomer(ctx, req)
	})
}

func (r *resilientProvider) UpdateCustomer(ctx context.Context, customerID string, req CustomerRequest) (*Customer, error) {
	return call(ctx, r, "update_customer", req.IdempotencyKey != "", func(ctx context.Context) (*Customer, error) {
		return r.next.UpdateCustomer(ctx, customerID, req)
	})
}

func (r *resilientProvider) DeleteCustomer(ctx context.Context, customerID string) error {
	_, err := call(ctx, r, "delete_customer", true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.DeleteCustomer(ctx, customerID)
	})
	return err
}

func (r *resilientProvider) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*RemoteSubscription, error) {
	return call(ctx, r, "create_subscription", req.IdempotencyKey != "", func(ctx context.Context) (*RemoteSubscription, error) {
		return r.next.CreateSubscription(ctx, req)
	})
}

func (r *resilientProvider) UpdateSubscription(ctx context.Context, subscriptionID string, req SubscriptionUpdate) (*RemoteSubscription, error) {
	return call(ctx, r, "update_subscription", req.IdempotencyKey != "", func(ctx context.Context) (*RemoteSubscription, error) {
		return r.next.UpdateSubscription(ctx, subscriptionID, req)
	})
}

func (r *resilientProvider) CancelSubscription(ctx context.Context, subscriptionID string, req CancelRequest) (*RemoteSubscription, error) {
	return call(ctx, r, "cancel_subscription", req.IdempotencyKey != "", func(ctx context.Context) (*RemoteSubscription, error) {
		return r.next.CancelSubscription(ctx, subscriptionID, req)
	})
}

func (r *resilientProvider) ReactivateSubscription(ctx context.Context, subscriptionID string, idempotencyKey string) (*RemoteSubscription, error) {
	return call(ctx, r, "reactivate_subscription", idempotencyKey != "", func(ctx context.Context) (*RemoteSubscription, error) {
		return r.next.ReactivateSubscription(ctx, subscriptionID, idempotencyKey)
	})
}

func (r *resilientProvider) GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error) {
	return call(ctx, r, "get_subscription", true, func(ctx context.Context) (*RemoteSubscription, error) {
		return r.next.GetSubscription(ctx, subscriptionID)
	})
}

func (r *resilientProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return call(ctx, r, "create_checkout_session", req.IdempotencyKey != "", func(ctx context.Context) (*CheckoutSession, error) {
		return r.next.CreateCheckoutSession(ctx, req)
	})
}

func (r *resilientProvider) CreatePixCharge(ctx context.Context, req PixChargeRequest) (*PixCharge, error) {
	return call(ctx, r, "create_pix_charge", req.IdempotencyKey != "", func(ctx context.Context) (*PixCharge, error) {
		return r.next.CreatePixCharge(ctx, req)
	})
}

func (r *resilientProvider) GetPixCharge(ctx context.Context, chargeID string) (*PixCharge, error) {
	return call(ctx, r, "get_pix_charge", true, func(ctx context.Context) (*PixCharge, error) {
		return r.next.GetPixCharge(ctx, chargeID)
	})
}

func (r *resilientProvider) AttachPaymentMethod(ctx context.Context, customerID, token, idempotencyKey string) (*PaymentMethod, error) {
	return call(ctx, r, "attach_payment_method", idempotencyKey != "", func(ctx context.Context) (*PaymentMethod, error) {
		return r.next.AttachPaymentMethod(ctx, customerID, token, idempotencyKey)
	})
}

func (r *resilientProvider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	_, err := call(ctx, r, "detach_payment_method", true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.DetachPaymentMethod(ctx, paymentMethodID)
	})
	return err
}

func (r *resilientProvider) CreateInvoice(ctx context.Context, req InvoiceRequest) (*RemoteInvoice, error) {
	return call(ctx, r, "create_invoice", req.IdempotencyKey != "", func(ctx context.Context) (*RemoteInvoice, error) {
		return r.next.CreateInvoice(ctx, req)
	})
}

func (r *resilientProvider) FinalizeInvoice(ctx context.Context, invoiceID string) (*RemoteInvoice, error) {
	return call(ctx, r, "finalize_invoice", true, func(ctx context.Context) (*RemoteInvoice, error) {
		return r.next.FinalizeInvoice(ctx, invoiceID)
	})
}

func (r *resilientProvider) PayInvoice(ctx context.Context, invoiceID, idempotencyKey string) (*RemoteInvoice, error) {
	return call(ctx, r, "pay_invoice", idempotencyKey != "", func(ctx context.Context) (*RemoteInvoice, error) {
		return r.next.PayInvoice(ctx, invoiceID, idempotencyKey)
	})
}

func (r *resilientProvider) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	return call(ctx, r, "refund", req.IdempotencyKey != "", func(ctx context.Context) (*Refund, error) {
		return r.next.Refund(ctx, req)
	})
}

func (r *resilientProvider) VerifyWebhook(payload []byte, signature string) error {
	return r.next.VerifyWebhook(payload, signature)
}

func (r *resilientProvider) ParseWebhook(payload []byte) (*Event, error) {
	return r.next.ParseWebhook(payload)
}
