package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/qrcode"
)

// ActivateInput is a request to start paying for a plan.
type ActivateInput struct {
	TenantID      uuid.UUID     `json:"tenant_id" validate:"required"`
	PlanID        string        `json:"plan_id" validate:"required"`
	BillingCycle  BillingCycle  `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required,oneof=card pix boleto"`
	PaymentData   PaymentData   `json:"payment_data"`
}

// PaymentData carries the gateway side payment details.
type PaymentData struct {
	// PaymentMethodToken is a tokenized card; required for card payments.
	PaymentMethodToken string `json:"payment_method_token,omitempty"`
	// IdempotencyKey overrides the derived key for the remote subscription.
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
}

// ActivationResult is returned by ActivateSubscription.
type ActivationResult struct {
	Subscription *Subscription
	Invoice      *invoice.Invoice
	// Confirmed is true when the gateway settled the first charge synchronously.
	Confirmed bool
	// Charge is set for PIX activations.
	Charge *InstantCharge
}

// InstantCharge is a PIX charge the tenant pays by scanning a QR code.
type InstantCharge struct {
	ChargeID  string    `json:"charge_id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	QRPayload string    `json:"qr_payload"`
	CopyPaste string    `json:"copy_paste"`
	QRImage   string    `json:"qr_image,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Amount    Money     `json:"amount"`
}

// StartTrial creates the trial subscription of a newly signed up tenant.
func (s *Service) StartTrial(ctx context.Context, tenantID uuid.UUID, planID string) (*Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	plan, err := s.activePlan(planID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, lockKey(tenantID, nil))
	if err != nil {
		return nil, err
	}
	defer release()

	var created *Subscription
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if existing, err := currentOpen(ctx, tx, tenantID); err == nil {
			return fmt.Errorf("%w: %s is %s", ErrSubscriptionExists, existing.ID, existing.Status)
		} else if !errors.Is(err, ErrSubscriptionNotFound) {
			return err
		}

		now := s.Now()
		created = s.newSubscription(tenantID, plan, CycleMonthly, plan.TrialEndsAt(now))
		if err := tx.InsertSubscription(ctx, created); err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		if err := tx.SetTenantAccess(ctx, tenantID, true, now); err != nil {
			return fmt.Errorf("set tenant access: %w", err)
		}
		trigger := Trigger{Source: audit.SourceAPI, Actor: string(audit.SourceSystem), OccurredAt: now}
		return tx.AppendAudit(ctx, s.auditEvent("subscription.trial_started", trigger, tenantID,
			audit.WithEntity("subscription", created.ID.String()),
			audit.WithAfter(created),
		))
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "trial started",
		logger.TenantID(tenantID),
		logger.SubscriptionID(created.ID),
		slog.String("plan_id", plan.ID),
	)
	return created, nil
}

// GetSubscription returns the most recent subscription of the tenant.
func (s *Service) GetSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.store.FindCurrentByTenant(ctx, tenantID)
}

// ActivateSubscription moves a tenant onto a paid plan. Card and boleto go
// through a remote subscription; PIX issues an instant charge instead.
func (s *Service) ActivateSubscription(ctx context.Context, in ActivateInput) (*ActivationResult, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	if in.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if in.PaymentMethod == PaymentCard && in.PaymentData.PaymentMethodToken == "" {
		return nil, fmt.Errorf("%w: payment method token is required for card payments", ErrValidation)
	}
	plan, err := s.activePlan(in.PlanID)
	if err != nil {
		return nil, err
	}

	if in.PaymentMethod == PaymentPix {
		charge, err := s.CreateInstantPaymentCharge(ctx, in.TenantID, in.PlanID, in.BillingCycle)
		if err != nil {
			return nil, err
		}
		sub, err := s.store.FindCurrentByTenant(ctx, in.TenantID)
		if err != nil {
			return nil, err
		}
		inv, err := s.store.GetInvoice(ctx, charge.InvoiceID)
		if err != nil {
			return nil, err
		}
		return &ActivationResult{Subscription: sub, Invoice: inv, Charge: charge}, nil
	}

	// outbound calls happen before the lock
	current, err := s.store.FindCurrentByTenant(ctx, in.TenantID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	if current != nil && current.Status == StatusActive {
		return nil, ErrAlreadyActive
	}

	var customerID, anchor string
	if current != nil {
		customerID = current.GatewayCustomerID
		anchor = current.ID.String() + ":" + strconv.FormatInt(current.UpdatedAt.UnixNano(), 10)
	}
	customerID, err = s.ensureCustomer(ctx, in.TenantID, customerID)
	if err != nil {
		return nil, err
	}

	var paymentRef string
	if in.PaymentData.PaymentMethodToken != "" {
		pm, err := s.provider.AttachPaymentMethod(ctx, customerID, in.PaymentData.PaymentMethodToken,
			gateway.IdempotencyKey("payment_method", customerID, in.PaymentData.PaymentMethodToken))
		if err != nil {
			return nil, err
		}
		paymentRef = pm.ID
	}

	snapshot := plan.Snapshot()
	price := snapshot.Price(in.BillingCycle)
	key := in.PaymentData.IdempotencyKey
	if key == "" {
		key = gateway.IdempotencyKey("activate", in.TenantID.String(), plan.ID, string(in.BillingCycle), anchor)
	}
	remote, err := s.provider.CreateSubscription(ctx, gateway.SubscriptionRequest{
		CustomerID:       customerID,
		PlanID:           plan.ID,
		PriceRef:         plan.GatewayPrices[in.BillingCycle],
		Amount:           price.Amount,
		Currency:         price.Currency,
		Interval:         in.BillingCycle.Interval(),
		PaymentMethodRef: paymentRef,
		Metadata: map[string]string{
			gateway.MetaTenantID: in.TenantID.String(),
			gateway.MetaPlanID:   plan.ID,
		},
		IdempotencyKey: key,
	})
	if err != nil {
		if current != nil {
			s.attachCustomerQuietly(ctx, current.ID, customerID)
		}
		return nil, err
	}

	release, err := s.lock(ctx, lockKey(in.TenantID, current))
	if err != nil {
		return nil, err
	}
	defer release()

	result := &ActivationResult{}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.Now()
		sub, err := currentOpen(ctx, tx, in.TenantID)
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			sub = s.newSubscription(in.TenantID, plan, in.BillingCycle, now)
			if err := tx.InsertSubscription(ctx, sub); err != nil {
				return fmt.Errorf("insert subscription: %w", err)
			}
		case err != nil:
			return err
		default:
			if sub, err = tx.LockSubscription(ctx, sub.ID); err != nil {
				return err
			}
		}

		trigger := APITrigger(in.TenantID.String(), "activate:"+remote.ID, now)
		before := sub.Clone()
		applyPlan(sub, &snapshot, in.BillingCycle)
		sub.PaymentMethod = in.PaymentMethod
		sub.GatewayCustomerID = customerID
		sub.GatewaySubscriptionID = remote.ID
		sub.Metadata.GatewayStatus = string(remote.Status)
		if err := s.save(ctx, tx, before, sub, "subscription.activation_requested", trigger,
			audit.WithMetadata("gateway_subscription_id", remote.ID)); err != nil {
			return err
		}

		inv, err := s.newInvoice(ctx, tx, sub, invoice.PurposeActivation, snapshot, in.BillingCycle, price)
		if err != nil {
			return err
		}
		charge := remote.LatestCharge
		if charge != nil {
			inv.GatewayChargeID = charge.ID
			inv.GatewayInvoiceID = charge.InvoiceID
			inv.FailureReason = charge.FailureReason
		}

		confirmed := charge != nil && charge.Paid
		if !confirmed {
			if charge != nil && charge.FailureReason != "" {
				failed := sub.Clone()
				failed.Metadata.LastFailureReason = charge.FailureReason
				failed.Metadata.LastFailureAt = timePtr(now)
				if err := s.save(ctx, tx, sub, failed, "subscription.payment_failure_recorded", trigger); err != nil {
					return err
				}
				sub = failed
			}
			if err := s.saveInvoice(ctx, tx, nil, inv, "invoice.created", trigger); err != nil {
				return err
			}
			result.Subscription, result.Invoice = sub, inv
			return nil
		}

		paidAt := now
		if charge.PaidAt != nil {
			paidAt = *charge.PaidAt
		}
		if _, err := inv.MarkPaid(paidAt, charge.ID); err != nil {
			return err
		}
		if err := s.saveInvoice(ctx, tx, nil, inv, "invoice.paid", trigger); err != nil {
			return err
		}
		res, err := s.apply(ctx, tx, sub, EventPaymentSucceeded, trigger, TransitionParams{PaidAt: paidAt})
		if err != nil {
			return err
		}
		result.Subscription, result.Invoice, result.Confirmed = res.Subscription, inv, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateInstantPaymentCharge issues a PIX charge for the plan and cycle. A pending,
// unexpired charge for the same plan and cycle is returned instead of a new one.
func (s *Service) CreateInstantPaymentCharge(ctx context.Context, tenantID uuid.UUID, planID string, cycle BillingCycle) (*InstantCharge, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if !cycle.Valid() {
		return nil, fmt.Errorf("%w: unknown billing cycle %q", ErrValidation, cycle)
	}
	plan, err := s.activePlan(planID)
	if err != nil {
		return nil, err
	}
	snapshot := plan.Snapshot()
	price := snapshot.Price(cycle)
	now := s.Now()

	current, err := currentOpen(ctx, s.store, tenantID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	var customerID string
	if current != nil {
		if inv, err := s.reusablePix(ctx, current.ID, plan.ID, cycle, now); err != nil {
			return nil, err
		} else if inv != nil {
			return instantChargeOf(inv, price), nil
		}
		customerID = current.GatewayCustomerID
	}

	customerID, err = s.ensureCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}

	invoiceID := uuid.New()
	meta := map[string]string{
		gateway.MetaTenantID:  tenantID.String(),
		gateway.MetaInvoiceID: invoiceID.String(),
		gateway.MetaPlanID:    plan.ID,
	}
	if current != nil {
		meta[gateway.MetaSubscriptionID] = current.ID.String()
	}
	charge, err := s.provider.CreatePixCharge(ctx, gateway.PixChargeRequest{
		CustomerID:     customerID,
		Amount:         price.Amount,
		Currency:       price.Currency,
		Description:    fmt.Sprintf("%s (%s)", plan.Name, cycle),
		ExpiresIn:      s.cfg.PixExpiry,
		Metadata:       meta,
		IdempotencyKey: "pix:" + invoiceID.String(),
	})
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, lockKey(tenantID, current))
	if err != nil {
		return nil, err
	}
	defer release()

	var inv *invoice.Invoice
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.Now()
		trigger := APITrigger(tenantID.String(), "pix:"+invoiceID.String(), now)

		sub, err := currentOpen(ctx, tx, tenantID)
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			// the first payment settles a trial that ends right away
			sub = s.newSubscription(tenantID, plan, cycle, now)
			sub.PaymentMethod = PaymentPix
			sub.GatewayCustomerID = customerID
			if err := tx.InsertSubscription(ctx, sub); err != nil {
				return fmt.Errorf("insert subscription: %w", err)
			}
			if err := tx.SetTenantAccess(ctx, tenantID, true, now); err != nil {
				return fmt.Errorf("set tenant access: %w", err)
			}
		case err != nil:
			return err
		case sub.GatewayCustomerID == "":
			before := sub.Clone()
			sub.GatewayCustomerID = customerID
			if err := s.save(ctx, tx, before, sub, "subscription.gateway_linked", trigger); err != nil {
				return err
			}
		}

		inv, err = s.newInvoice(ctx, tx, sub, invoice.PurposePix, snapshot, cycle, price)
		if err != nil {
			return err
		}
		inv.ID = invoiceID
		inv.GatewayChargeID = charge.ID
		inv.DueAt = timePtr(charge.ExpiresAt)
		inv.Pix = &invoice.Pix{ChargeID: charge.ID, Payload: charge.QRPayload, ExpiresAt: charge.ExpiresAt}
		return s.saveInvoice(ctx, tx, nil, inv, "invoice.created", trigger)
	})
	if err != nil {
		return nil, err
	}

	out := instantChargeOf(inv, price)
	if charge.CopyPaste != "" {
		out.CopyPaste = charge.CopyPaste
	}
	if charge.QRImage != "" {
		out.QRImage = charge.QRImage
	}
	return out, nil
}

func (s *Service) reusablePix(ctx context.Context, subID uuid.UUID, planID string, cycle BillingCycle, now time.Time) (*invoice.Invoice, error) {
	open, err := s.store.ListInvoices(ctx, InvoiceFilter{
		SubscriptionID: subID,
		Purpose:        invoice.PurposePix,
		Statuses:       []invoice.Status{invoice.StatusPending},
	})
	if err != nil {
		return nil, err
	}
	for _, inv := range open {
		if inv.PlanID == planID && inv.BillingCycle == string(cycle) && !inv.IsPixExpired(now) {
			return inv, nil
		}
	}
	return nil, nil
}

func instantChargeOf(inv *invoice.Invoice, price Money) *InstantCharge {
	out := &InstantCharge{
		ChargeID:  inv.Pix.ChargeID,
		InvoiceID: inv.ID,
		QRPayload: inv.Pix.Payload,
		CopyPaste: inv.Pix.Payload,
		ExpiresAt: inv.Pix.ExpiresAt,
		Amount:    Money{Amount: inv.Total, Currency: inv.Currency},
	}
	if out.Amount.Currency == "" {
		out.Amount = price
	}
	if img, err := qrcode.DataURI(inv.Pix.Payload, qrcode.DefaultSize); err == nil {
		out.QRImage = img
	}
	return out
}

// lockKey serializes with other writers of the current subscription, or of
// the tenant when it has none.
func lockKey(tenantID uuid.UUID, current *Subscription) string {
	if current != nil && !current.IsTerminal() {
		return "subscription:" + current.ID.String()
	}
	return "tenant:" + tenantID.String()
}

func (s *Service) activePlan(planID string) (Plan, error) {
	if planID == "" {
		return Plan{}, fmt.Errorf("%w: plan id is required", ErrValidation)
	}
	plan, err := s.catalog.Get(planID)
	if err != nil {
		return Plan{}, err
	}
	if !plan.Active {
		return Plan{}, ErrPlanInactive
	}
	return plan, nil
}

func (s *Service) newSubscription(tenantID uuid.UUID, plan Plan, cycle BillingCycle, trialEndsAt time.Time) *Subscription {
	now := s.Now()
	snapshot := plan.Snapshot()
	return &Subscription{
		ID:              uuid.New(),
		TenantID:        tenantID,
		PlanID:          plan.ID,
		Plan:            snapshot,
		Status:          StatusTrial,
		BillingCycle:    cycle,
		Amount:          snapshot.Price(cycle),
		StartedAt:       now,
		TrialEndsAt:     timePtr(trialEndsAt),
		GracePeriodDays: s.cfg.GracePeriodDays,
		Usage:           map[Resource]int64{},
		UsageResetAt:    timePtr(now),
		Metadata:        Metadata{Version: MetadataVersion},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// attachCustomerQuietly links a created customer so a retry can reuse it.
func (s *Service) attachCustomerQuietly(ctx context.Context, subID uuid.UUID, customerID string) {
	if err := s.AttachGatewayIDs(ctx, subID, customerID, ""); err != nil {
		s.logger.WarnContext(ctx, "failed to link gateway customer",
			logger.SubscriptionID(subID),
			logger.Error(err),
		)
	}
}
