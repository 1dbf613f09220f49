package webhook

import "errors"

// Errors returned by signature verification and retry helpers.
// Callers wrap them with provider context using errors.Join().
var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrMissingSignature     = errors.New("webhook signature is missing")
	ErrMalformedSignature   = errors.New("webhook signature header is malformed")
	ErrSignatureMismatch    = errors.New("webhook signature mismatch")
	ErrSignatureExpired     = errors.New("webhook signature timestamp outside tolerance")
	ErrCircuitOpen          = errors.New("circuit breaker is open")
	ErrAttemptsExhausted    = errors.New("retry attempts exhausted")
)

// IsCircuitOpen checks if an error indicates the circuit breaker is open
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
