package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrGateway               = errors.New("payment gateway error")
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrUnsupportedOperation  = errors.New("operation not supported by payment gateway")
	ErrUnknownProvider       = errors.New("unknown payment gateway provider")
	ErrMissingAPIKey         = errors.New("payment gateway API key is required")
	ErrMissingWebhookSecret  = errors.New("payment gateway webhook secret is required")
	ErrInvalidEnvironment    = errors.New("invalid payment gateway environment")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrInvalidPayload        = errors.New("invalid webhook payload")
	ErrRemoteNotFound        = errors.New("remote resource not found")
	ErrCircuitOpen           = errors.New("payment gateway circuit is open")
	ErrNoCheckoutURL         = errors.New("no checkout URL returned from gateway")
	ErrInvalidRequest        = errors.New("invalid payment gateway request")
	ErrPaymentDeclined       = errors.New("payment declined")
)

// GatewayError wraps a failed call to a payment gateway.
// Timeout is set when the call hit its deadline: the outcome on the gateway
// is unknown and must not be treated as success.
type GatewayError struct {
	Provider   string
	Op         string
	StatusCode int
	Code       string
	Retryable  bool
	Timeout    bool
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s: %s failed", e.Provider, e.Op)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is makes every GatewayError match ErrGateway.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// NewGatewayError classifies err into a GatewayError.
// Context deadlines become timeouts; 429, 5xx and transport errors are retryable.
func NewGatewayError(provider, op string, statusCode int, err error) *GatewayError {
	var existing *GatewayError
	if errors.As(err, &existing) {
		return existing
	}

	ge := &GatewayError{
		Provider:   provider,
		Op:         op,
		StatusCode: statusCode,
		Err:        err,
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ge.Timeout = true
		ge.Retryable = true
	case errors.Is(err, context.Canceled):
		ge.Retryable = false
	case errors.Is(err, ErrCircuitOpen):
		ge.Retryable = false
	case statusCode == http.StatusTooManyRequests, statusCode >= http.StatusInternalServerError:
		ge.Retryable = true
	case errors.Is(err, ErrUnsupportedOperation), errors.Is(err, ErrRemoteNotFound),
		errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrMissingIdempotencyKey),
		errors.Is(err, ErrPaymentDeclined):
		ge.Retryable = false
	case statusCode == 0:
		// no HTTP status means the request never got a response
		ge.Retryable = true
	}

	return ge
}

// IsRetryable reports whether err is a GatewayError that may be retried.
func IsRetryable(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Retryable
}

// IsTimeout reports whether err is a gateway call that timed out.
func IsTimeout(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Timeout
}

// SignatureVerificationError rejects a webhook before any processing.
type SignatureVerificationError struct {
	Provider string
	Err      error
}

func (e *SignatureVerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: webhook signature verification failed", e.Provider)
	}
	return fmt.Sprintf("%s: webhook signature verification failed: %v", e.Provider, e.Err)
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }

func (e *SignatureVerificationError) Is(target error) bool { return target == ErrSignatureVerification }
