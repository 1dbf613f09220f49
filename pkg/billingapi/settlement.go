package billingapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/settlement"
)

// Settlement is the part of settlement.Service exposed over HTTP.
type Settlement interface {
	CreateTransaction(ctx context.Context, in settlement.CreateInput) (*settlement.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*settlement.Transaction, error)
	MarkPaid(ctx context.Context, id uuid.UUID, chargeID string) (bool, error)
	Refund(ctx context.Context, id uuid.UUID) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	Recalculate(ctx context.Context, id uuid.UUID, amount, fee int64) (*settlement.Transaction, error)
	ProfessionalEarnings(ctx context.Context, tenantID, professionalID uuid.UUID, from, to time.Time) (settlement.Earnings, error)
}

// WithSettlement mounts the payment transaction routes under /tenants/{tenantID}.
func WithSettlement(s Settlement) Option {
	return func(a *API) { a.settlement = s }
}

type createTransactionRequest struct {
	TenantID       uuid.UUID `path:"tenantID" json:"-" validate:"required"`
	AppointmentID  uuid.UUID `json:"appointment_id" validate:"required"`
	ProfessionalID uuid.UUID `json:"professional_id" validate:"required"`
	ServiceID      uuid.UUID `json:"service_id"`
	Amount         int64     `json:"amount" validate:"gte=0"`
	GatewayFee     int64     `json:"gateway_fee" validate:"gte=0"`
	PaymentMethod  string    `json:"payment_method" validate:"required,oneof=card pix cash boleto"`
}

type transactionRequest struct {
	TenantID      uuid.UUID `path:"tenantID" json:"-" validate:"required"`
	TransactionID uuid.UUID `path:"transactionID" json:"-" validate:"required"`
}

type markPaidRequest struct {
	TenantID      uuid.UUID `path:"tenantID" json:"-" validate:"required"`
	TransactionID uuid.UUID `path:"transactionID" json:"-" validate:"required"`
	ChargeID      string    `json:"charge_id,omitempty"`
}

type recalculateRequest struct {
	TenantID      uuid.UUID `path:"tenantID" json:"-" validate:"required"`
	TransactionID uuid.UUID `path:"transactionID" json:"-" validate:"required"`
	Amount        int64     `json:"amount" validate:"gte=0"`
	GatewayFee    int64     `json:"gateway_fee" validate:"gte=0"`
}

type earningsRequest struct {
	TenantID       uuid.UUID `path:"tenantID" validate:"required"`
	ProfessionalID uuid.UUID `path:"professionalID" validate:"required"`
	From           string    `query:"from" validate:"required,datetime=2006-01-02"`
	To             string    `query:"to" validate:"required,datetime=2006-01-02"`
}

// MutationResponse reports whether a state change was applied.
type MutationResponse struct {
	Transaction *settlement.Transaction `json:"transaction"`
	Changed     bool                    `json:"changed"`
}

func (a *API) settlementRoutes(r chi.Router) {
	r.Post("/transactions", wrap(a, a.createTransaction, bindPath(), bindJSON(false)))
	r.Get("/transactions/{transactionID}", wrap(a, a.getTransaction, bindPath()))
	r.Post("/transactions/{transactionID}/paid", wrap(a, a.markTransactionPaid, bindPath(), bindJSON(true)))
	r.Post("/transactions/{transactionID}/refund", wrap(a, a.mutateTransaction(a.settlement.Refund), bindPath()))
	r.Post("/transactions/{transactionID}/cancel", wrap(a, a.mutateTransaction(a.settlement.Cancel), bindPath()))
	r.Post("/transactions/{transactionID}/recalculate", wrap(a, a.recalculateTransaction, bindPath(), bindJSON(false)))
	r.Get("/professionals/{professionalID}/earnings", wrap(a, a.professionalEarnings, bindPath(), bindQuery()))
}

func (a *API) createTransaction(r *http.Request, req createTransactionRequest) Response {
	t, err := a.settlement.CreateTransaction(r.Context(), settlement.CreateInput{
		TenantID:       req.TenantID,
		AppointmentID:  req.AppointmentID,
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		Amount:         req.Amount,
		GatewayFee:     req.GatewayFee,
		PaymentMethod:  req.PaymentMethod,
	})
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusCreated, t)
}

// transaction loads a transaction of tenantID. Transactions of other tenants
// are reported as missing.
func (a *API) transaction(ctx context.Context, tenantID, id uuid.UUID) (*settlement.Transaction, error) {
	t, err := a.settlement.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.TenantID != tenantID {
		return nil, settlement.ErrTransactionNotFound
	}
	return t, nil
}

func (a *API) getTransaction(r *http.Request, req transactionRequest) Response {
	t, err := a.transaction(r.Context(), req.TenantID, req.TransactionID)
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusOK, t)
}

func (a *API) markTransactionPaid(r *http.Request, req markPaidRequest) Response {
	return a.applyMutation(r, req.TenantID, req.TransactionID, func(ctx context.Context, id uuid.UUID) (bool, error) {
		return a.settlement.MarkPaid(ctx, id, req.ChargeID)
	})
}

func (a *API) mutateTransaction(fn func(ctx context.Context, id uuid.UUID) (bool, error)) HandlerFunc[transactionRequest] {
	return func(r *http.Request, req transactionRequest) Response {
		return a.applyMutation(r, req.TenantID, req.TransactionID, fn)
	}
}

func (a *API) applyMutation(r *http.Request, tenantID, id uuid.UUID, fn func(ctx context.Context, id uuid.UUID) (bool, error)) Response {
	if _, err := a.transaction(r.Context(), tenantID, id); err != nil {
		return a.Error(err)
	}
	changed, err := fn(r.Context(), id)
	if err != nil {
		return a.Error(err)
	}
	t, err := a.settlement.GetTransaction(r.Context(), id)
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusOK, MutationResponse{Transaction: t, Changed: changed})
}

func (a *API) recalculateTransaction(r *http.Request, req recalculateRequest) Response {
	if _, err := a.transaction(r.Context(), req.TenantID, req.TransactionID); err != nil {
		return a.Error(err)
	}
	t, err := a.settlement.Recalculate(r.Context(), req.TransactionID, req.Amount, req.GatewayFee)
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusOK, t)
}

// professionalEarnings sums paid transactions from the start of from to the
// end of to, both UTC dates.
func (a *API) professionalEarnings(r *http.Request, req earningsRequest) Response {
	from, err := time.Parse(time.DateOnly, req.From)
	if err != nil {
		return a.Error(&HTTPError{Status: http.StatusBadRequest, Code: "bad_request", Err: err})
	}
	to, err := time.Parse(time.DateOnly, req.To)
	if err != nil {
		return a.Error(&HTTPError{Status: http.StatusBadRequest, Code: "bad_request", Err: err})
	}
	if to.Before(from) {
		return a.Error(&HTTPError{Status: http.StatusBadRequest, Code: "bad_request", Err: errInvertedRange})
	}

	e, err := a.settlement.ProfessionalEarnings(r.Context(), req.TenantID, req.ProfessionalID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusOK, e)
}
