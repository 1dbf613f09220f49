// Package gateway abstracts the external payment processors behind a single
// Provider interface composed of small capability interfaces.
//
// Adapters:
//
//   - Simulated: in-process gateway for development and tests, with HMAC-signed
//     webhooks and deterministic ids derived from idempotency keys.
//   - Stripe: card subscriptions, invoices and PIX through stripe-go.
//   - Paddle: customers, checkout and cancellation through the Paddle SDK.
//
// New builds the configured adapter and wraps it with WithResilience, which
// bounds every call with a timeout, a circuit breaker and, for idempotent
// writes, retries with exponential backoff.
//
//	provider, err := gateway.New(cfg.Gateway, logger)
//	if err != nil {
//		return err
//	}
//	sub, err := provider.CreateSubscription(ctx, gateway.SubscriptionRequest{
//		CustomerID:     customerID,
//		PriceRef:       plan.PriceRef,
//		Amount:         plan.Price,
//		Currency:       "BRL",
//		Interval:       gateway.IntervalMonth,
//		IdempotencyKey: gateway.IdempotencyKey("activate", tenantID, planID),
//	})
//
// Webhooks are verified with VerifyWebhook and normalized with ParseWebhook
// into an Event with a provider-agnostic EventType. Types without a mapping
// parse to a nil event and are acknowledged without processing.
package gateway
