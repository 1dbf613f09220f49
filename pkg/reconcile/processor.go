package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/cache"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// Provider is the webhook half of a payment gateway.
type Provider interface {
	Name() string
	gateway.WebhookParser
}

// Billing is the part of the subscription service webhooks drive.
// *subscription.Service implements it.
type Billing interface {
	FindByGatewaySubscription(ctx context.Context, gatewayID string) (*subscription.Subscription, error)
	FindInvoiceByGatewayCharge(ctx context.Context, chargeID string) (*invoice.Invoice, error)
	GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error)

	Transition(ctx context.Context, req subscription.TransitionRequest) (subscription.Result, error)
	RecordPayment(ctx context.Context, c subscription.PaymentConfirmation) (subscription.Result, error)
	RecordPaymentFailure(ctx context.Context, f subscription.PaymentFailure) (subscription.Result, error)
	RecordRefund(ctx context.Context, r subscription.RefundNotice) (*invoice.Invoice, error)
	ExpirePixInvoice(ctx context.Context, invoiceID uuid.UUID, trigger subscription.Trigger) (bool, error)
	RecordGatewayStatus(ctx context.Context, g subscription.GatewayStatus) (subscription.Result, error)
}

// Processor turns verified gateway deliveries into billing state changes.
type Processor struct {
	billing   Billing
	events    EventStore
	providers map[string]Provider
	seen      *cache.LRUCache[string, Status]
	audit     *audit.Logger
	policy    webhook.RetryPolicy
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor creates a webhook processor. Panics if billing or events is nil.
func NewProcessor(billing Billing, events EventStore, opts ...Option) *Processor {
	if billing == nil {
		panic("reconcile: Billing is required")
	}
	if events == nil {
		panic("reconcile: EventStore is required")
	}

	cfg := DefaultConfig()
	p := &Processor{
		billing:   billing,
		events:    events,
		providers: make(map[string]Provider),
		policy:    webhook.NewRetryPolicy(cfg.Retry),
		cfg:       cfg,
		logger:    discardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.seen = cache.NewLRUCache[string, Status](p.cfg.DedupCacheSize)
	return p
}

// HandleWebhook verifies, deduplicates and applies one delivery.
//
// Only an unknown provider, a bad signature or a store failure before the
// delivery is recorded return an error without a recorded outcome. A
// duplicate returns *DuplicateEventError and must be acknowledged. Every
// other outcome, including processing failures queued for retry, returns a
// nil error.
//
// A failed Begin is the one delivery that is not acknowledged: no record
// exists for RetryFailed to pick up, so the gateway redelivery is its retry.
func (p *Processor) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (Result, error) {
	res := Result{Provider: provider}

	prov, ok := p.providers[provider]
	if !ok {
		return res, ErrUnknownProvider
	}

	if err := prov.VerifyWebhook(payload, signature); err != nil {
		p.logger.WarnContext(ctx, "webhook signature rejected", logger.Provider(provider), logger.Error(err))
		var sigErr *gateway.SignatureVerificationError
		if !errors.As(err, &sigErr) {
			err = &gateway.SignatureVerificationError{Provider: provider, Err: err}
		}
		res.Outcome = OutcomeRejected
		return res, err
	}

	evt, err := prov.ParseWebhook(payload)
	if err != nil {
		res.Outcome = OutcomeRejected
		res.Reason = err.Error()
		p.logger.WarnContext(ctx, "webhook payload rejected", logger.Provider(provider), logger.Error(err))
		p.auditRejection(ctx, res, err)
		return res, nil
	}
	if evt == nil || !evt.Type.Valid() {
		res.Outcome = OutcomeIgnored
		if evt != nil {
			res.EventID, res.Type = evt.ID, string(evt.Type)
		}
		p.logger.DebugContext(ctx, "webhook type ignored", logger.Provider(provider), logger.EventType(res.Type))
		return res, nil
	}
	res.EventID, res.Type = evt.ID, string(evt.Type)

	key := eventKey(provider, evt.ID)
	if status, ok := p.seen.Get(key); ok {
		res.Outcome = OutcomeDuplicate
		return res, &DuplicateEventError{Provider: provider, EventID: evt.ID, Status: status}
	}

	now := p.now().UTC()
	rec, err := p.events.Begin(ctx, &WebhookEvent{
		Provider:   provider,
		EventID:    evt.ID,
		Type:       string(evt.Type),
		Payload:    payload,
		ReceivedAt: now,
		UpdatedAt:  now,
	}, now.Add(-p.cfg.StaleAfter))
	if err != nil {
		var dup *DuplicateEventError
		if errors.As(err, &dup) {
			if dup.Status.Final() {
				p.seen.Put(key, dup.Status)
			}
			res.Outcome = OutcomeDuplicate
			p.logger.InfoContext(ctx, "duplicate webhook acknowledged",
				logger.Provider(provider),
				logger.EventID(evt.ID),
				slog.String("status", string(dup.Status)),
			)
			return res, err
		}
		// not acknowledged; nothing was stored to retry from
		return res, fmt.Errorf("reconcile: begin webhook event: %w", err)
	}

	return p.process(ctx, rec, evt), nil
}

// RetryFailed re-processes due records from their stored payload: failed
// records whose NextAttemptAt has passed and records stuck in processing for
// longer than StaleAfter. With dryRun nothing is claimed or changed.
func (p *Processor) RetryFailed(ctx context.Context, now time.Time, dryRun bool) ([]Result, error) {
	staleBefore := now.Add(-p.cfg.StaleAfter)
	recs, err := p.events.ListDue(ctx, now, staleBefore, p.cfg.RetryBatchSize)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list due webhook events: %w", err)
	}

	results := make([]Result, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if dryRun {
			results = append(results, Result{
				Provider:       rec.Provider,
				EventID:        rec.EventID,
				Type:           rec.Type,
				Outcome:        OutcomeWouldRetry,
				TenantID:       rec.TenantID,
				SubscriptionID: rec.SubscriptionID,
				Attempts:       rec.Attempts,
				Reason:         rec.LastError,
			})
			continue
		}
		results = append(results, p.retry(ctx, rec, now, staleBefore))
	}
	return results, nil
}

func (p *Processor) retry(ctx context.Context, rec *WebhookEvent, now, staleBefore time.Time) Result {
	res := Result{Provider: rec.Provider, EventID: rec.EventID, Type: rec.Type, Attempts: rec.Attempts}

	claim := rec.Clone()
	claim.UpdatedAt = now
	claimed, err := p.events.Begin(ctx, claim, staleBefore)
	if err != nil {
		if IsDuplicate(err) {
			res.Outcome = OutcomeDuplicate
			return res
		}
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		p.logger.ErrorContext(ctx, "failed to claim webhook event for retry",
			logger.Provider(rec.Provider), logger.EventID(rec.EventID), logger.Error(err))
		return res
	}

	prov, ok := p.providers[claimed.Provider]
	if !ok {
		return p.finish(ctx, claimed, res, StatusDead, OutcomeFailed, ErrUnknownProvider.Error())
	}
	evt, err := prov.ParseWebhook(claimed.Payload)
	if err != nil {
		return p.finish(ctx, claimed, res, StatusRejected, OutcomeRejected, err.Error())
	}
	if evt == nil || !evt.Type.Valid() {
		return p.finish(ctx, claimed, res, StatusSkipped, OutcomeIgnored, "event type not handled")
	}
	return p.process(ctx, claimed, evt)
}

func (p *Processor) process(ctx context.Context, rec *WebhookEvent, evt *gateway.Event) Result {
	res := Result{Provider: rec.Provider, EventID: rec.EventID, Type: rec.Type, Attempts: rec.Attempts}
	log := p.logger.With(logger.Provider(rec.Provider), logger.EventID(rec.EventID), logger.EventType(rec.Type))

	tgt, err := p.resolve(ctx, evt)
	switch {
	case errors.Is(err, errTenantMismatch):
		if tgt.sub != nil {
			res.TenantID, res.SubscriptionID = tgt.sub.TenantID, tgt.sub.ID
			rec.TenantID, rec.SubscriptionID = tgt.sub.TenantID, tgt.sub.ID
		}
		log.WarnContext(ctx, "webhook metadata does not match gateway record", logger.Error(err))
		return p.finish(ctx, rec, res, StatusRejected, OutcomeRejected, err.Error())
	case err != nil:
		return p.fail(ctx, rec, res, err)
	case tgt.sub == nil:
		log.WarnContext(ctx, "webhook skipped: no local subscription for gateway ids",
			slog.String("gateway_subscription_id", evt.Data.SubscriptionID),
			slog.String("gateway_charge_id", evt.Data.ChargeID),
		)
		return p.finish(ctx, rec, res, StatusSkipped, OutcomeSkipped, "no matching subscription")
	}

	res.TenantID, res.SubscriptionID = tgt.sub.TenantID, tgt.sub.ID
	rec.TenantID, rec.SubscriptionID = tgt.sub.TenantID, tgt.sub.ID

	out, err := p.apply(ctx, rec.Provider, evt, tgt)
	switch {
	case errors.Is(err, subscription.ErrChargeExpired):
		log.WarnContext(ctx, "pix payment after expiry rejected", logger.SubscriptionID(tgt.sub.ID))
		return p.finish(ctx, rec, res, StatusRejected, OutcomeRejected, err.Error())
	case err != nil:
		return p.fail(ctx, rec, res, err)
	case out.skip != "":
		log.WarnContext(ctx, "webhook skipped", slog.String("reason", out.skip))
		return p.finish(ctx, rec, res, StatusSkipped, OutcomeSkipped, out.skip)
	}

	res.From, res.To = out.result.From, out.result.To
	res.Applied = out.result.Applied
	log.InfoContext(ctx, "webhook processed",
		logger.TenantID(tgt.sub.TenantID),
		logger.SubscriptionID(tgt.sub.ID),
		slog.Bool("applied", res.Applied),
	)
	return p.finish(ctx, rec, res, StatusProcessed, OutcomeProcessed, out.result.Reason)
}

// finish stores a final status. A failed save leaves the record in
// processing; it is picked up again once stale.
func (p *Processor) finish(ctx context.Context, rec *WebhookEvent, res Result, status Status, outcome Outcome, reason string) Result {
	now := p.now().UTC()
	rec.Status = status
	rec.UpdatedAt = now
	rec.ProcessedAt = &now
	rec.NextAttemptAt = nil
	if status != StatusProcessed {
		rec.LastError = reason
	} else {
		rec.LastError = ""
	}

	res.Outcome = outcome
	res.Reason = reason
	res.Attempts = rec.Attempts

	if err := p.events.Save(ctx, rec); err != nil {
		p.logger.ErrorContext(ctx, "failed to save webhook event",
			logger.Provider(rec.Provider), logger.EventID(rec.EventID), logger.Error(err))
	} else {
		p.seen.Put(eventKey(rec.Provider, rec.EventID), status)
	}

	switch {
	case outcome == OutcomeRejected:
		p.auditRejection(ctx, res, errors.New(reason))
	case status == StatusDead:
		p.auditDead(ctx, res, errors.New(reason))
	}
	return res
}

// fail schedules the next attempt, or gives up once the policy is exhausted.
func (p *Processor) fail(ctx context.Context, rec *WebhookEvent, res Result, cause error) Result {
	now := p.now().UTC()
	next, err := p.policy.Next(rec.Attempts, now)
	if err != nil {
		p.logger.ErrorContext(ctx, "webhook event dead after retries",
			logger.Provider(rec.Provider),
			logger.EventID(rec.EventID),
			logger.RetryCount(rec.Attempts),
			logger.Error(cause),
		)
		return p.finish(ctx, rec, res, StatusDead, OutcomeFailed, cause.Error())
	}

	rec.Status = StatusFailed
	rec.LastError = cause.Error()
	rec.NextAttemptAt = &next
	rec.UpdatedAt = now
	if err := p.events.Save(ctx, rec); err != nil {
		p.logger.ErrorContext(ctx, "failed to save webhook event",
			logger.Provider(rec.Provider), logger.EventID(rec.EventID), logger.Error(err))
	}

	p.logger.ErrorContext(ctx, "webhook processing failed",
		logger.Provider(rec.Provider),
		logger.EventID(rec.EventID),
		logger.RetryCount(rec.Attempts),
		slog.Time("next_attempt_at", next),
		logger.Error(cause),
	)

	res.Outcome = OutcomeFailed
	res.Reason = cause.Error()
	res.Attempts = rec.Attempts
	res.NextAttemptAt = &next
	return res
}

func (p *Processor) auditRejection(ctx context.Context, res Result, reason error) {
	p.auditLog(ctx, "webhook.rejected", res, reason)
}

func (p *Processor) auditDead(ctx context.Context, res Result, reason error) {
	p.auditLog(ctx, "webhook.dead", res, reason)
}

func (p *Processor) auditLog(ctx context.Context, action string, res Result, reason error) {
	if p.audit == nil {
		return
	}
	if res.TenantID != uuid.Nil {
		ctx = audit.ContextWithTenant(ctx, res.TenantID.String())
	}
	ctx = audit.ContextWithActor(ctx, res.Provider)

	opts := []audit.EventOption{
		audit.WithEntity("webhook_event", eventKey(res.Provider, res.EventID)),
		audit.WithSource(audit.SourceWebhook),
		audit.WithMetadata("event_type", res.Type),
	}
	if res.SubscriptionID != uuid.Nil {
		opts = append(opts, audit.WithMetadata("subscription_id", res.SubscriptionID.String()))
	}
	if err := p.audit.LogError(ctx, action, reason, opts...); err != nil {
		p.logger.WarnContext(ctx, "failed to write webhook audit entry", logger.Error(err))
	}
}
