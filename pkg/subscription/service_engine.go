package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// PaymentConfirmation reports a settled charge.
// InvoiceID or ChargeID locate the local invoice; without one a paid renewal invoice is created.
type PaymentConfirmation struct {
	SubscriptionID uuid.UUID
	InvoiceID      uuid.UUID
	ChargeID       string
	Amount         int64
	PaidAt         time.Time
	Trigger        Trigger
}

// PaymentFailure reports a failed charge.
type PaymentFailure struct {
	SubscriptionID uuid.UUID
	InvoiceID      uuid.UUID
	ChargeID       string
	Reason         string
	Trigger        Trigger
}

// RefundNotice reports money returned for a charge.
type RefundNotice struct {
	SubscriptionID uuid.UUID
	InvoiceID      uuid.UUID
	ChargeID       string
	Amount         int64 // zero refunds the remainder
	Trigger        Trigger
}

// RecordPayment marks the invoice paid and applies payment_succeeded in one transaction.
// A PIX charge confirmed after its expiry cancels the invoice, leaves the
// subscription untouched and returns ErrChargeExpired.
func (s *Service) RecordPayment(ctx context.Context, c PaymentConfirmation) (Result, error) {
	var (
		res     Result
		expired bool
	)
	err := s.withSubscription(ctx, c.SubscriptionID, func(ctx context.Context, tx Tx, sub *Subscription) error {
		res = Result{Subscription: sub, From: sub.Status, To: sub.Status, Event: EventPaymentSucceeded}
		if c.Trigger.Key == "" {
			return ErrMissingTrigger
		}
		if sub.Metadata.HasApplied(EventPaymentSucceeded, c.Trigger.Key) {
			res.Reason = ReasonDuplicateTrigger
			return nil
		}

		now := s.Now()
		paidAt := c.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}

		inv, err := findInvoice(ctx, tx, c.InvoiceID, c.ChargeID)
		if err != nil {
			return err
		}
		if inv != nil && inv.SubscriptionID != sub.ID {
			return fmt.Errorf("%w: invoice %s belongs to another subscription", ErrValidation, inv.ID)
		}

		params := TransitionParams{PaidAt: paidAt}
		switch {
		case inv == nil:
			amount := sub.Amount
			if c.Amount > 0 {
				amount.Amount = c.Amount
			}
			if inv, err = s.newInvoice(ctx, tx, sub, invoice.PurposeRenewal, sub.Plan, sub.BillingCycle, amount); err != nil {
				return err
			}
			if _, err := inv.MarkPaid(paidAt, c.ChargeID); err != nil {
				return err
			}
			if err := s.saveInvoice(ctx, tx, nil, inv, "invoice.paid", c.Trigger); err != nil {
				return err
			}

		case inv.Status == invoice.StatusPaid || inv.Status == invoice.StatusRefunded:
			// a sibling event for the same charge already settled it
			res.Reason = "invoice already paid"
			return nil

		case inv.Pix != nil && inv.Status == invoice.StatusCancelled:
			expired = true
			return nil

		case inv.IsPixExpired(paidAt):
			before := inv.Clone()
			if _, err := inv.Cancel("pix charge expired"); err != nil {
				return err
			}
			expired = true
			return s.saveInvoice(ctx, tx, before, inv, "invoice.pix_expired", c.Trigger)

		default:
			before := inv.Clone()
			if _, err := inv.MarkPaid(paidAt, c.ChargeID); err != nil {
				return errors.Join(ErrValidation, err)
			}
			if err := s.saveInvoice(ctx, tx, before, inv, "invoice.paid", c.Trigger); err != nil {
				return err
			}
			if inv.Purpose == invoice.PurposePix {
				params.PaymentMethod = PaymentPix
			}
			if inv.PlanID != "" && (inv.PlanID != sub.PlanID || inv.BillingCycle != string(sub.BillingCycle)) {
				if plan, err := s.catalog.Get(inv.PlanID); err == nil {
					snapshot := plan.Snapshot()
					params.Plan = &snapshot
				}
				params.Cycle = BillingCycle(inv.BillingCycle)
			}
		}

		res, err = s.apply(ctx, tx, sub, EventPaymentSucceeded, c.Trigger, params)
		return err
	})
	if err != nil {
		return res, err
	}
	if expired {
		s.logger.WarnContext(ctx, "pix confirmation after expiry rejected",
			logger.SubscriptionID(c.SubscriptionID),
			logger.InvoiceID(c.InvoiceID),
		)
		return res, ErrChargeExpired
	}
	return res, nil
}

// RecordPaymentFailure records a failed charge. Active and past due
// subscriptions move to past_due; others only keep the reason.
func (s *Service) RecordPaymentFailure(ctx context.Context, f PaymentFailure) (Result, error) {
	var res Result
	err := s.withSubscription(ctx, f.SubscriptionID, func(ctx context.Context, tx Tx, sub *Subscription) error {
		res = Result{Subscription: sub, From: sub.Status, To: sub.Status, Event: EventPaymentFailed}
		if f.Trigger.Key == "" {
			return ErrMissingTrigger
		}
		if sub.Metadata.HasApplied(EventPaymentFailed, f.Trigger.Key) || sub.Metadata.HasApplied(eventFailureRecorded, f.Trigger.Key) {
			res.Reason = ReasonDuplicateTrigger
			return nil
		}

		inv, err := findInvoice(ctx, tx, f.InvoiceID, f.ChargeID)
		if err != nil {
			return err
		}
		if inv != nil && inv.Status.Open() {
			before := inv.Clone()
			inv.FailureReason = f.Reason
			if err := s.saveInvoice(ctx, tx, before, inv, "invoice.payment_failed", f.Trigger); err != nil {
				return err
			}
		}

		if sub.Status == StatusActive || sub.Status == StatusPastDue {
			res, err = s.apply(ctx, tx, sub, EventPaymentFailed, f.Trigger, TransitionParams{FailureReason: f.Reason})
			return err
		}
		if sub.IsTerminal() {
			return &InvalidTransitionError{From: sub.Status, Event: EventPaymentFailed}
		}

		after := sub.Clone()
		at := f.Trigger.OccurredAt
		if at.IsZero() {
			at = s.Now()
		}
		after.Metadata.LastFailureReason = f.Reason
		after.Metadata.LastFailureAt = timePtr(at)
		after.Metadata.remember(eventFailureRecorded, f.Trigger.Key, s.Now())
		res.Subscription = after
		res.Reason = "failure recorded"
		return s.save(ctx, tx, sub, after, "subscription.payment_failure_recorded", f.Trigger)
	})
	return res, err
}

// RecordRefund records a refund against the paid invoice of the charge.
func (s *Service) RecordRefund(ctx context.Context, r RefundNotice) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := s.withSubscription(ctx, r.SubscriptionID, func(ctx context.Context, tx Tx, sub *Subscription) error {
		if r.Trigger.Key == "" {
			return ErrMissingTrigger
		}
		inv, err := findInvoice(ctx, tx, r.InvoiceID, r.ChargeID)
		if err != nil {
			return err
		}
		if inv == nil {
			return ErrInvoiceNotFound
		}
		if sub.Metadata.HasApplied(eventRefund, r.Trigger.Key) {
			out = inv
			return nil
		}

		before := inv.Clone()
		if err := inv.Refund(r.Amount); err != nil {
			return errors.Join(ErrValidation, err)
		}
		if err := s.saveInvoice(ctx, tx, before, inv, "invoice.refunded", r.Trigger); err != nil {
			return err
		}

		after := sub.Clone()
		after.Metadata.remember(eventRefund, r.Trigger.Key, s.Now())
		if err := s.save(ctx, tx, sub, after, "subscription.refund_recorded", r.Trigger,
			audit.WithMetadata("invoice_id", inv.ID.String()),
			audit.WithMetadata("amount", inv.RefundedAmount),
		); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

// ExpirePixInvoice cancels an open PIX invoice. It reports false when there was nothing to do.
// The subscription is never touched.
func (s *Service) ExpirePixInvoice(ctx context.Context, invoiceID uuid.UUID, trigger Trigger) (bool, error) {
	return s.updateInvoice(ctx, invoiceID, func(inv *invoice.Invoice) (bool, string, error) {
		if inv.Pix == nil || !inv.Status.Open() {
			return false, "", nil
		}
		changed, err := inv.Cancel("pix charge expired")
		return changed, "invoice.pix_expired", err
	}, trigger)
}

// MarkInvoiceOverdue moves a pending invoice past its due date to overdue.
func (s *Service) MarkInvoiceOverdue(ctx context.Context, invoiceID uuid.UUID, trigger Trigger) (bool, error) {
	return s.updateInvoice(ctx, invoiceID, func(inv *invoice.Invoice) (bool, string, error) {
		if !inv.IsOverdue(s.Now()) {
			return false, "", nil
		}
		changed, err := inv.MarkOverdue(s.Now())
		return changed, "invoice.overdue", err
	}, trigger)
}

func (s *Service) updateInvoice(ctx context.Context, invoiceID uuid.UUID, mutate func(inv *invoice.Invoice) (bool, string, error), trigger Trigger) (bool, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return false, err
	}

	var changed bool
	err = s.withSubscription(ctx, inv.SubscriptionID, func(ctx context.Context, tx Tx, _ *Subscription) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		before := inv.Clone()
		ok, action, err := mutate(inv)
		if err != nil || !ok {
			return err
		}
		changed = true
		return s.saveInvoice(ctx, tx, before, inv, action, trigger)
	})
	return changed, err
}

// MarkReminded records that the renewal reminder for periodEnd was sent.
// It reports false when a reminder for that period, or today, already went out.
func (s *Service) MarkReminded(ctx context.Context, subID uuid.UUID, periodEnd time.Time, trigger Trigger) (bool, error) {
	var marked bool
	err := s.withSubscription(ctx, subID, func(ctx context.Context, tx Tx, sub *Subscription) error {
		now := s.Now()
		if RemindedFor(sub, periodEnd, now) {
			return nil
		}
		after := sub.Clone()
		after.Metadata.LastReminderAt = timePtr(now)
		after.Metadata.ReminderPeriodEnd = timePtr(periodEnd)
		marked = true
		return s.save(ctx, tx, sub, after, "subscription.renewal_reminded", trigger)
	})
	return marked, err
}

// RemindedFor reports whether a reminder already went out for periodEnd or on the day of now.
func RemindedFor(sub *Subscription, periodEnd, now time.Time) bool {
	md := sub.Metadata
	if md.ReminderPeriodEnd != nil && md.ReminderPeriodEnd.Equal(periodEnd) {
		return true
	}
	if md.LastReminderAt != nil {
		y1, m1, d1 := md.LastReminderAt.UTC().Date()
		y2, m2, d2 := now.UTC().Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	}
	return false
}

// ResetUsage zeroes the usage counters.
func (s *Service) ResetUsage(ctx context.Context, subID uuid.UUID, trigger Trigger) (Result, error) {
	return s.Transition(ctx, TransitionRequest{SubscriptionID: subID, Event: EventUsageReset, Trigger: trigger})
}

// AttachGatewayIDs links gateway identifiers to the subscription. Empty values are ignored.
func (s *Service) AttachGatewayIDs(ctx context.Context, subID uuid.UUID, customerID, subscriptionID string) error {
	return s.withSubscription(ctx, subID, func(ctx context.Context, tx Tx, sub *Subscription) error {
		after := sub.Clone()
		if customerID != "" {
			after.GatewayCustomerID = customerID
		}
		if subscriptionID != "" {
			after.GatewaySubscriptionID = subscriptionID
		}
		if after.GatewayCustomerID == sub.GatewayCustomerID && after.GatewaySubscriptionID == sub.GatewaySubscriptionID {
			return nil
		}
		trigger := Trigger{Source: audit.SourceSystem, Actor: string(audit.SourceSystem), OccurredAt: s.Now()}
		return s.save(ctx, tx, sub, after, "subscription.gateway_linked", trigger)
	})
}

// GatewayStatus is the gateway's view of a subscription reported by a webhook.
type GatewayStatus struct {
	SubscriptionID    uuid.UUID
	Status            string
	CancelAtPeriodEnd bool
	Trigger           Trigger
}

// RecordGatewayStatus stores the remote status and mirrors a deferred cancel
// set or cleared on the gateway side.
func (s *Service) RecordGatewayStatus(ctx context.Context, g GatewayStatus) (Result, error) {
	var res Result
	err := s.withSubscription(ctx, g.SubscriptionID, func(ctx context.Context, tx Tx, sub *Subscription) error {
		res = Result{Subscription: sub, From: sub.Status, To: sub.Status}
		if g.Trigger.Key == "" {
			return ErrMissingTrigger
		}
		if sub.Metadata.HasApplied(eventGatewayStatus, g.Trigger.Key) {
			res.Reason = ReasonDuplicateTrigger
			return nil
		}

		cur := sub
		if g.Status != "" && g.Status != sub.Metadata.GatewayStatus {
			after := sub.Clone()
			after.Metadata.GatewayStatus = g.Status
			after.Metadata.remember(eventGatewayStatus, g.Trigger.Key, s.Now())
			if err := s.save(ctx, tx, sub, after, "subscription.gateway_status", g.Trigger,
				audit.WithMetadata("gateway_status", g.Status)); err != nil {
				return err
			}
			cur = after
			res.Subscription = after
		}

		var event Event
		switch {
		case g.CancelAtPeriodEnd && !cur.Metadata.CancelAtPeriodEnd:
			event = EventScheduleCancel
		case !g.CancelAtPeriodEnd && cur.Metadata.CancelAtPeriodEnd:
			event = EventResume
		default:
			return nil
		}
		if !s.machine.CanFire(ctx, cur.Status, event, &transitionData{sub: cur.Clone(), now: s.Now(), trigger: g.Trigger}) {
			return nil
		}
		var err error
		res, err = s.apply(ctx, tx, cur, event, g.Trigger, TransitionParams{CancelReason: "cancelled on gateway"})
		return err
	})
	return res, err
}

// FindByGatewaySubscription resolves a subscription by its gateway id.
func (s *Service) FindByGatewaySubscription(ctx context.Context, gatewayID string) (*Subscription, error) {
	return s.store.FindByGatewaySubscription(ctx, gatewayID)
}

// FindInvoiceByGatewayCharge resolves an invoice by its gateway charge id.
func (s *Service) FindInvoiceByGatewayCharge(ctx context.Context, chargeID string) (*invoice.Invoice, error) {
	return s.store.FindInvoiceByGatewayCharge(ctx, chargeID)
}

// GetSubscriptionByID loads a subscription by id.
func (s *Service) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// GetInvoice loads an invoice by id.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// ListSubscriptions returns subscriptions matching the filter.
func (s *Service) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	return s.store.ListSubscriptions(ctx, filter)
}

// ListInvoices returns invoices matching the filter.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*invoice.Invoice, error) {
	return s.store.ListInvoices(ctx, filter)
}

// findInvoice looks an invoice up by id, then by charge. A miss on both is (nil, nil).
func findInvoice(ctx context.Context, q Queries, invoiceID uuid.UUID, chargeID string) (*invoice.Invoice, error) {
	if invoiceID != uuid.Nil {
		inv, err := q.GetInvoice(ctx, invoiceID)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, ErrInvoiceNotFound) {
			return nil, err
		}
	}
	if chargeID != "" {
		inv, err := q.FindInvoiceByGatewayCharge(ctx, chargeID)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, ErrInvoiceNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
