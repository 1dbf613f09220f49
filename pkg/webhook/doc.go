// Package webhook holds the low-level primitives shared by inbound payment
// gateway webhooks and outbound gateway calls.
//
// # Signatures
//
// SignPayload and VerifySignature implement HMAC-SHA256 over
// "<unix timestamp>.<raw body>", encoded in the X-Billing-Signature header as
// "t=<unix>,v1=<hex>". Verification uses hmac.Equal and rejects timestamps
// outside the configured tolerance to limit replay.
//
//	sig, err := webhook.ParseSignatureHeader(r.Header.Get(webhook.SignatureHeader))
//	if err == nil {
//	    err = webhook.VerifySignature(secret, body, sig, 5*time.Minute, time.Now())
//	}
//
// # Retry policy
//
// RetryPolicy decides when a failed inbound event is retried by the billing
// scheduler and when it is given up on:
//
//	next, err := policy.Next(record.Attempts, now)
//	if errors.Is(err, webhook.ErrAttemptsExhausted) {
//	    // move to dead letter
//	}
//
// # Circuit breaker
//
// CircuitBreaker protects calls to a payment gateway that keeps failing.
// Do runs a call through the breaker and lets the caller decide which errors
// count as failures.
package webhook
