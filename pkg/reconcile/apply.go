package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var errTenantMismatch = errors.New("webhook metadata does not match the gateway record")

type target struct {
	sub *subscription.Subscription
	inv *invoice.Invoice
}

// resolve finds the local records by gateway ids. Internal ids echoed in the
// event metadata are only checked against what the gateway ids resolved to.
func (p *Processor) resolve(ctx context.Context, evt *gateway.Event) (target, error) {
	var t target
	d := evt.Data

	if d.ChargeID != "" {
		inv, err := p.billing.FindInvoiceByGatewayCharge(ctx, d.ChargeID)
		switch {
		case err == nil:
			t.inv = inv
		case !errors.Is(err, subscription.ErrNotFound):
			return t, err
		}
	}

	if t.inv != nil {
		sub, err := p.billing.GetSubscriptionByID(ctx, t.inv.SubscriptionID)
		if err != nil && !errors.Is(err, subscription.ErrNotFound) {
			return t, err
		}
		t.sub = sub
	}
	if t.sub == nil && d.SubscriptionID != "" {
		sub, err := p.billing.FindByGatewaySubscription(ctx, d.SubscriptionID)
		if err != nil && !errors.Is(err, subscription.ErrNotFound) {
			return t, err
		}
		t.sub = sub
	}
	if t.sub == nil {
		return t, nil
	}

	if hint := evt.TenantHint(); hint != "" && hint != t.sub.TenantID.String() {
		return t, fmt.Errorf("%w: tenant %s", errTenantMismatch, hint)
	}
	if hint := evt.SubscriptionHint(); hint != "" && hint != t.sub.ID.String() {
		if err := p.sameTenantSubscription(ctx, hint, t.sub.TenantID); err != nil {
			return t, err
		}
	}
	if hint := evt.InvoiceHint(); hint != "" && t.inv == nil {
		inv, err := p.hintedInvoice(ctx, hint, t.sub)
		if err != nil {
			return t, err
		}
		t.inv = inv
	}
	return t, nil
}

func (p *Processor) sameTenantSubscription(ctx context.Context, hint string, tenantID uuid.UUID) error {
	id, err := uuid.Parse(hint)
	if err != nil {
		return fmt.Errorf("%w: subscription %q", errTenantMismatch, hint)
	}
	other, err := p.billing.GetSubscriptionByID(ctx, id)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		return fmt.Errorf("%w: subscription %s", errTenantMismatch, id)
	case err != nil:
		return err
	case other.TenantID != tenantID:
		return fmt.Errorf("%w: subscription %s", errTenantMismatch, id)
	}
	return nil
}

func (p *Processor) hintedInvoice(ctx context.Context, hint string, sub *subscription.Subscription) (*invoice.Invoice, error) {
	id, err := uuid.Parse(hint)
	if err != nil {
		return nil, fmt.Errorf("%w: invoice %q", errTenantMismatch, hint)
	}
	inv, err := p.billing.GetInvoice(ctx, id)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case inv.SubscriptionID != sub.ID:
		return nil, fmt.Errorf("%w: invoice %s", errTenantMismatch, id)
	}
	return inv, nil
}

type applied struct {
	result subscription.Result
	skip   string
}

// apply maps the normalized event onto the subscription service. Each call
// commits the invoice, the subscription and the tenant flag together.
func (p *Processor) apply(ctx context.Context, provider string, evt *gateway.Event, t target) (applied, error) {
	var (
		out     applied
		err     error
		d       = evt.Data
		trigger = subscription.WebhookTrigger(provider, evt.ID, evt.OccurredAt)
	)

	var invoiceID uuid.UUID
	if t.inv != nil {
		invoiceID = t.inv.ID
	}

	switch evt.Type {
	case gateway.EventSubscriptionCancelled:
		if t.sub.IsTerminal() {
			out.result = subscription.Result{Subscription: t.sub, From: t.sub.Status, To: t.sub.Status, Event: subscription.EventCancel}
			out.result.Reason = "subscription already " + string(t.sub.Status)
			return out, nil
		}
		out.result, err = p.billing.Transition(ctx, subscription.TransitionRequest{
			SubscriptionID: t.sub.ID,
			Event:          subscription.EventCancel,
			Trigger:        trigger,
			Params:         subscription.TransitionParams{CancelReason: "cancelled on gateway"},
		})

	case gateway.EventSubscriptionCreated, gateway.EventSubscriptionUpdated:
		out.result, err = p.billing.RecordGatewayStatus(ctx, subscription.GatewayStatus{
			SubscriptionID:    t.sub.ID,
			Status:            d.Status,
			CancelAtPeriodEnd: d.CancelAtPeriod,
			Trigger:           trigger,
		})

	case gateway.EventPaymentSucceeded, gateway.EventInvoicePaid, gateway.EventSubscriptionRenewed, gateway.EventPixReceived:
		var paidAt time.Time
		if d.PaidAt != nil {
			paidAt = *d.PaidAt
		}
		out.result, err = p.billing.RecordPayment(ctx, subscription.PaymentConfirmation{
			SubscriptionID: t.sub.ID,
			InvoiceID:      invoiceID,
			ChargeID:       d.ChargeID,
			Amount:         d.Amount,
			PaidAt:         paidAt,
			Trigger:        trigger,
		})

	case gateway.EventPaymentFailed, gateway.EventInvoicePaymentFailed:
		out.result, err = p.billing.RecordPaymentFailure(ctx, subscription.PaymentFailure{
			SubscriptionID: t.sub.ID,
			InvoiceID:      invoiceID,
			ChargeID:       d.ChargeID,
			Reason:         d.FailureReason,
			Trigger:        trigger,
		})

	case gateway.EventPaymentRefunded:
		if t.inv == nil {
			out.skip = "no local invoice for refunded charge"
			return out, nil
		}
		_, err = p.billing.RecordRefund(ctx, subscription.RefundNotice{
			SubscriptionID: t.sub.ID,
			InvoiceID:      invoiceID,
			ChargeID:       d.ChargeID,
			Amount:         d.Amount,
			Trigger:        trigger,
		})
		out.result = subscription.Result{Subscription: t.sub, From: t.sub.Status, To: t.sub.Status}

	case gateway.EventPixExpired:
		if t.inv == nil {
			out.skip = "no local invoice for expired pix charge"
			return out, nil
		}
		var changed bool
		changed, err = p.billing.ExpirePixInvoice(ctx, invoiceID, trigger)
		out.result = subscription.Result{Subscription: t.sub, From: t.sub.Status, To: t.sub.Status}
		if !changed {
			out.result.Reason = "invoice not open"
		}

	default:
		out.skip = "event type not handled"
	}
	return out, err
}
