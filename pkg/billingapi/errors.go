package billingapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/jobs"
	"github.com/dmitrymomot/billingkit/pkg/ratelimiter"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/settlement"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

var (
	ErrNilResponse          = errors.New("handler returned nil response")
	ErrMissingContentType   = errors.New("missing content type")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrInvalidJSON          = errors.New("invalid JSON")
	ErrInvalidPath          = errors.New("invalid path parameter")
	ErrInvalidQuery         = errors.New("invalid query parameter")
	ErrBodyTooLarge         = errors.New("request body too large")

	errNotApplicable = errors.New("binder not applicable")
	errInvertedRange = errors.New("to must not be before from")
)

// HTTPError is an error with a fixed status and machine readable code.
type HTTPError struct {
	Status int
	Code   string
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error { return e.Err }

// classify maps err to its status code and response detail. The message of
// internal errors is never exposed.
func classify(err error) (int, *ErrorDetail) {
	var (
		httpErr    *HTTPError
		fieldErrs  validator.ValidationErrors
		transition *subscription.InvalidTransitionError
		sigErr     *gateway.SignatureVerificationError
		gwErr      *gateway.GatewayError
		limited    *ratelimiter.LimitedError
	)

	switch {
	case errors.As(err, &httpErr):
		return httpErr.Status, &ErrorDetail{Code: httpErr.Code, Message: httpErr.Error()}
	case errors.As(err, &fieldErrs):
		return http.StatusUnprocessableEntity, &ErrorDetail{
			Code:    "validation_failed",
			Message: "request validation failed",
			Details: fieldDetails(fieldErrs),
		}
	case errors.Is(err, ErrMissingContentType), errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, &ErrorDetail{Code: "unsupported_media_type", Message: err.Error()}
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, &ErrorDetail{Code: "body_too_large", Message: ErrBodyTooLarge.Error()}
	case errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest, &ErrorDetail{Code: "bad_request", Message: err.Error()}
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, &ErrorDetail{Code: "rate_limited", Message: limited.Error()}
	case errors.As(err, &transition):
		return http.StatusConflict, &ErrorDetail{Code: "invalid_transition", Message: err.Error()}
	case errors.Is(err, jobs.ErrJobRunning):
		return http.StatusConflict, &ErrorDetail{Code: "job_running", Message: err.Error()}
	case errors.Is(err, subscription.ErrChargeExpired):
		return http.StatusConflict, &ErrorDetail{Code: "charge_expired", Message: err.Error()}
	case errors.Is(err, settlement.ErrImmutable), errors.Is(err, settlement.ErrInvalidStatus),
		errors.Is(err, settlement.ErrTransactionExists):
		return http.StatusConflict, &ErrorDetail{Code: "invalid_state", Message: err.Error()}
	case errors.Is(err, subscription.ErrNotFound), errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, reconcile.ErrUnknownProvider),
		errors.Is(err, settlement.ErrTransactionNotFound), errors.Is(err, settlement.ErrProfessionalNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "not_found", Message: err.Error()}
	case errors.Is(err, tenant.ErrInvalidIdentifier):
		return http.StatusBadRequest, &ErrorDetail{Code: "bad_request", Message: err.Error()}
	case errors.Is(err, subscription.ErrValidation), errors.Is(err, settlement.ErrInvalidInput),
		errors.Is(err, invoice.ErrInvalidAmount), errors.Is(err, invoice.ErrInvalidItem),
		errors.Is(err, invoice.ErrInvalidStatus), errors.Is(err, invoice.ErrInvalidNumber):
		return http.StatusBadRequest, &ErrorDetail{Code: "invalid_request", Message: err.Error()}
	case errors.Is(err, subscription.ErrSubscriptionInactive), errors.Is(err, subscription.ErrGracePeriodExpired),
		errors.Is(err, subscription.ErrLimitExceeded):
		return http.StatusForbidden, &ErrorDetail{Code: "subscription_restricted", Message: err.Error()}
	case errors.As(err, &sigErr):
		return http.StatusUnauthorized, &ErrorDetail{Code: "invalid_signature", Message: "webhook signature verification failed"}
	case errors.As(err, &gwErr):
		if gwErr.Timeout {
			return http.StatusGatewayTimeout, &ErrorDetail{Code: "gateway_timeout", Message: "payment gateway timed out"}
		}
		return http.StatusBadGateway, &ErrorDetail{Code: "gateway_error", Message: "payment gateway request failed"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &ErrorDetail{Code: "timeout", Message: "request timed out"}
	default:
		return http.StatusInternalServerError, &ErrorDetail{Code: "internal_error", Message: "internal server error"}
	}
}

func fieldDetails(errs validator.ValidationErrors) map[string][]string {
	out := make(map[string][]string, len(errs))
	for _, fe := range errs {
		name := fe.Field()
		out[name] = append(out[name], fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		a.logError(r, "request failed", err)
	}
	a.render(w, r, jsonResponse{status: status, body: Envelope{Error: detail}})
}
