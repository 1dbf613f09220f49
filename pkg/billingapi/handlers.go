package billingapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// IdempotencyHeader supplies the activation idempotency key when the body has none.
const IdempotencyHeader = "Idempotency-Key"

type tenantRequest struct {
	TenantID uuid.UUID `path:"tenantID" json:"-" validate:"required"`
}

type activateRequest struct {
	TenantID           uuid.UUID                  `path:"tenantID" json:"-" validate:"required"`
	PlanID             string                     `json:"plan_id" validate:"required"`
	BillingCycle       subscription.BillingCycle  `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	PaymentMethod      subscription.PaymentMethod `json:"payment_method" validate:"required,oneof=card pix boleto"`
	PaymentMethodToken string                     `json:"payment_method_token,omitempty" validate:"required_if=PaymentMethod card"`
	IdempotencyKey     string                     `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
}

type pixRequest struct {
	TenantID     uuid.UUID                 `path:"tenantID" json:"-" validate:"required"`
	PlanID       string                    `json:"plan_id" validate:"required"`
	BillingCycle subscription.BillingCycle `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
}

type changePlanRequest struct {
	TenantID uuid.UUID `path:"tenantID" json:"-" validate:"required"`
	PlanID   string    `json:"plan_id" validate:"required"`
}

type cancelRequest struct {
	TenantID    uuid.UUID `path:"tenantID" json:"-" validate:"required"`
	Immediately bool      `json:"immediately"`
	Reason      string    `json:"reason,omitempty" validate:"max=500"`
}

type jobRequest struct {
	Name   string `path:"name" validate:"required"`
	DryRun bool   `query:"dry_run"`
}

// ActivationResponse is the body of a successful activation.
type ActivationResponse struct {
	Subscription *subscription.Subscription  `json:"subscription"`
	Invoice      *invoice.Invoice            `json:"invoice,omitempty"`
	Confirmed    bool                        `json:"confirmed"`
	Charge       *subscription.InstantCharge `json:"charge,omitempty"`
}

func (a *API) getSubscription(r *http.Request, req tenantRequest) Response {
	sub, err := a.billing.GetSubscription(r.Context(), req.TenantID)
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusOK, sub)
}

// activateSubscription answers 200 when the first charge settled and 202
// while the payment is still pending.
func (a *API) activateSubscription(r *http.Request, req activateRequest) Response {
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(IdempotencyHeader)
	}

	res, err := a.billing.ActivateSubscription(r.Context(), subscription.ActivateInput{
		TenantID:      req.TenantID,
		PlanID:        req.PlanID,
		BillingCycle:  req.BillingCycle,
		PaymentMethod: req.PaymentMethod,
		PaymentData: subscription.PaymentData{
			PaymentMethodToken: req.PaymentMethodToken,
			IdempotencyKey:     key,
		},
	})
	if err != nil {
		return a.Error(err)
	}

	status := http.StatusOK
	if !res.Confirmed {
		status = http.StatusAccepted
	}
	return JSON(status, ActivationResponse{
		Subscription: res.Subscription,
		Invoice:      res.Invoice,
		Confirmed:    res.Confirmed,
		Charge:       res.Charge,
	})
}

func (a *API) createPixCharge(r *http.Request, req pixRequest) Response {
	charge, err := a.billing.CreateInstantPaymentCharge(r.Context(), req.TenantID, req.PlanID, req.BillingCycle)
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusCreated, charge)
}

func (a *API) changePlan(r *http.Request, req changePlanRequest) Response {
	sub, err := a.billing.ChangePlan(r.Context(), req.TenantID, req.PlanID)
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusOK, sub)
}

func (a *API) cancelSubscription(r *http.Request, req cancelRequest) Response {
	sub, err := a.billing.CancelSubscription(r.Context(), req.TenantID, req.Immediately, req.Reason)
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusOK, sub)
}

func (a *API) runJob(r *http.Request, req jobRequest) Response {
	rep, err := a.jobs.RunJob(r.Context(), req.Name, req.DryRun)
	if err != nil {
		return a.Error(err)
	}
	return JSON(http.StatusOK, rep)
}

// handleWebhook acknowledges every delivery it recorded, including failed
// and duplicate ones. Only a bad signature, an unknown provider or a store
// failure before the delivery was recorded get a non-2xx status.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = errors.Join(ErrBodyTooLarge, err)
		}
		a.writeError(w, r, err)
		return
	}

	header := a.signatureHeaders[provider]
	if header == "" {
		header = webhook.SignatureHeader
	}

	res, err := a.webhooks.HandleWebhook(r.Context(), provider, payload, r.Header.Get(header))
	if err != nil && !reconcile.IsDuplicate(err) {
		a.writeError(w, r, err)
		return
	}
	a.render(w, r, JSON(http.StatusOK, res))
}
