package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Billing is the part of the subscription service the sweeps drive.
// *subscription.Service implements it.
type Billing interface {
	ListSubscriptions(ctx context.Context, filter subscription.SubscriptionFilter) ([]*subscription.Subscription, error)
	ListInvoices(ctx context.Context, filter subscription.InvoiceFilter) ([]*invoice.Invoice, error)
	CanTransition(ctx context.Context, sub *subscription.Subscription, event subscription.Event, params subscription.TransitionParams) bool
	Transition(ctx context.Context, req subscription.TransitionRequest) (subscription.Result, error)
	ResetUsage(ctx context.Context, subID uuid.UUID, trigger subscription.Trigger) (subscription.Result, error)
	MarkReminded(ctx context.Context, subID uuid.UUID, periodEnd time.Time, trigger subscription.Trigger) (bool, error)
	ExpirePixInvoice(ctx context.Context, invoiceID uuid.UUID, trigger subscription.Trigger) (bool, error)
	MarkInvoiceOverdue(ctx context.Context, invoiceID uuid.UUID, trigger subscription.Trigger) (bool, error)
}

// WebhookRetrier re-processes failed webhook deliveries. *reconcile.Processor implements it.
type WebhookRetrier interface {
	RetryFailed(ctx context.Context, now time.Time, dryRun bool) ([]reconcile.Result, error)
}

// Option configures the billing sweeps.
type Option func(*sweeps)

// WithNotifier sets where billing alerts go. Notifications are fire-and-forget.
func WithNotifier(n notify.Notifier) Option {
	return func(s *sweeps) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithWebhookRetrier enables the retry_failed_webhooks job.
func WithWebhookRetrier(r WebhookRetrier) Option {
	return func(s *sweeps) {
		s.webhooks = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *sweeps) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used when RunOptions.Now is zero.
func WithClock(now func() time.Time) Option {
	return func(s *sweeps) {
		if now != nil {
			s.now = now
		}
	}
}

type sweeps struct {
	billing  Billing
	webhooks WebhookRetrier
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewBillingJobs builds every billing sweep. retry_failed_webhooks is only
// included when a WebhookRetrier is set. Panics if billing is nil.
func NewBillingJobs(billing Billing, cfg Config, opts ...Option) []Job {
	if billing == nil {
		panic("jobs: Billing is required")
	}

	s := &sweeps{
		billing:  billing,
		notifier: notify.Nop{},
		cfg:      cfg.withDefaults(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	jobs := []Job{
		s.job(CheckTrialExpiration, s.trialExpiration),
		s.job(CheckPeriodExpiration, s.periodExpiration),
		s.job(CheckGracePeriod, s.gracePeriod),
		s.job(FinalizeCancellations, s.finalizeCancellations),
		s.job(ExpireAbandoned, s.expireAbandoned),
		s.job(SendRenewalReminders, s.renewalReminders),
		s.job(ExpirePixCharges, s.expirePixCharges),
		s.job(MarkOverdueInvoices, s.markOverdueInvoices),
		s.job(ResetUsageCounters, s.resetUsage),
	}
	if s.webhooks != nil {
		jobs = append(jobs, s.job(RetryFailedWebhooks, s.retryWebhooks))
	}
	return jobs
}

func (s *sweeps) job(name string, run func(ctx context.Context, rep *Report, opts RunOptions) error) Job {
	return &jobFunc{name: name, run: run, now: s.now}
}

var billable = []subscription.Status{subscription.StatusTrial, subscription.StatusActive, subscription.StatusPastDue}

func (s *sweeps) trialExpiration(ctx context.Context, rep *Report, opts RunOptions) error {
	return s.transition(ctx, rep, opts, transitionSweep{
		event: subscription.EventTrialElapsed,
		filter: subscription.SubscriptionFilter{
			Statuses:        []subscription.Status{subscription.StatusTrial},
			TrialEndsBefore: &opts.Now,
		},
		after: func(ctx context.Context, res subscription.Result) {
			if res.To == subscription.StatusPastDue {
				s.notify(ctx, notify.KindTrialEnded, res.Subscription, subscription.GraceEndsAt(res.Subscription))
			}
		},
	})
}

func (s *sweeps) periodExpiration(ctx context.Context, rep *Report, opts RunOptions) error {
	deferred := false
	return s.transition(ctx, rep, opts, transitionSweep{
		event: subscription.EventPeriodElapsed,
		filter: subscription.SubscriptionFilter{
			Statuses:          []subscription.Status{subscription.StatusActive},
			PeriodEndsBefore:  &opts.Now,
			CancelAtPeriodEnd: &deferred,
		},
		after: func(ctx context.Context, res subscription.Result) {
			s.notify(ctx, notify.KindPaymentFailed, res.Subscription, subscription.GraceEndsAt(res.Subscription))
		},
	})
}

func (s *sweeps) gracePeriod(ctx context.Context, rep *Report, opts RunOptions) error {
	return s.transition(ctx, rep, opts, transitionSweep{
		event: subscription.EventGraceElapsed,
		filter: subscription.SubscriptionFilter{
			Statuses:        []subscription.Status{subscription.StatusPastDue},
			GraceEndsBefore: &opts.Now,
		},
		after: func(ctx context.Context, res subscription.Result) {
			s.notify(ctx, notify.KindSuspended, res.Subscription, time.Time{})
		},
	})
}

func (s *sweeps) finalizeCancellations(ctx context.Context, rep *Report, opts RunOptions) error {
	deferred := true
	return s.transition(ctx, rep, opts, transitionSweep{
		event: subscription.EventCancellationDue,
		filter: subscription.SubscriptionFilter{
			Statuses:          billable,
			CancelAtPeriodEnd: &deferred,
			EndsBefore:        &opts.Now,
		},
	})
}

func (s *sweeps) expireAbandoned(ctx context.Context, rep *Report, opts RunOptions) error {
	cutoff := opts.Now.AddDate(0, 0, -s.cfg.ExpireAfterSuspendedDays)
	return s.transition(ctx, rep, opts, transitionSweep{
		event: subscription.EventExpire,
		filter: subscription.SubscriptionFilter{
			Statuses:              []subscription.Status{subscription.StatusSuspended},
			SuspendedBefore:       &cutoff,
			UnpaidSinceSuspension: true,
		},
	})
}

func (s *sweeps) resetUsage(ctx context.Context, rep *Report, opts RunOptions) error {
	boundary := time.Date(opts.Now.Year(), opts.Now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.transition(ctx, rep, opts, transitionSweep{
		event: subscription.EventUsageReset,
		filter: subscription.SubscriptionFilter{
			Statuses:         billable,
			UsageResetBefore: &boundary,
		},
		apply: func(ctx context.Context, sub *subscription.Subscription, trigger subscription.Trigger) (subscription.Result, error) {
			return s.billing.ResetUsage(ctx, sub.ID, trigger)
		},
	})
}

type transitionSweep struct {
	event subscription.Event
	// filter must select due rows only; the sweep handles the first BatchSize.
	filter subscription.SubscriptionFilter
	// apply defaults to Billing.Transition with the sweep event.
	apply func(ctx context.Context, sub *subscription.Subscription, trigger subscription.Trigger) (subscription.Result, error)
	after func(ctx context.Context, res subscription.Result)
}

func (s *sweeps) transition(ctx context.Context, rep *Report, opts RunOptions, ts transitionSweep) error {
	ts.filter.Limit = s.cfg.BatchSize
	subs, err := s.billing.ListSubscriptions(ctx, ts.filter)
	if err != nil {
		return fmt.Errorf("%s: list subscriptions: %w", rep.Job, err)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := Outcome{ID: sub.ID.String(), TenantID: sub.TenantID, Action: string(ts.event)}
		if opts.DryRun {
			if s.billing.CanTransition(ctx, sub, ts.event, subscription.TransitionParams{}) {
				out.Status = OutcomeWouldApply
			} else {
				out.Status = OutcomeSkipped
				out.Reason = "transition not allowed"
			}
			rep.add(out)
			continue
		}

		trigger := subscription.JobTrigger(rep.Job, sub.ID, opts.Now)
		var res subscription.Result
		if ts.apply != nil {
			res, err = ts.apply(ctx, sub, trigger)
		} else {
			res, err = s.billing.Transition(ctx, subscription.TransitionRequest{
				SubscriptionID: sub.ID,
				Event:          ts.event,
				Trigger:        trigger,
			})
		}

		switch {
		case err != nil:
			out.Status = OutcomeFailed
			out.Error = err.Error()
			s.logger.ErrorContext(ctx, "billing job item failed",
				logger.Job(rep.Job),
				logger.SubscriptionID(sub.ID),
				logger.Error(err),
			)
		case res.Applied:
			out.Status = OutcomeApplied
			if ts.after != nil {
				ts.after(ctx, res)
			}
		default:
			out.Status = OutcomeSkipped
			out.Reason = res.Reason
		}
		rep.add(out)
	}
	return nil
}

func (s *sweeps) renewalReminders(ctx context.Context, rep *Report, opts RunOptions) error {
	horizon := opts.Now.AddDate(0, 0, s.cfg.ReminderDays)
	deferred := false
	// elapsed periods belong to check_period_expiration
	subs, err := s.billing.ListSubscriptions(ctx, subscription.SubscriptionFilter{
		Statuses:          []subscription.Status{subscription.StatusActive},
		PeriodEndsBefore:  &horizon,
		PeriodEndsAfter:   &opts.Now,
		CancelAtPeriodEnd: &deferred,
		NotRemindedAt:     &opts.Now,
		Limit:             s.cfg.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("%s: list subscriptions: %w", rep.Job, err)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sub.CurrentPeriodEnd == nil {
			continue
		}
		periodEnd := *sub.CurrentPeriodEnd

		out := Outcome{ID: sub.ID.String(), TenantID: sub.TenantID, Action: string(notify.KindRenewalReminder)}
		switch {
		case opts.DryRun:
			out.Status = OutcomeWouldApply
		default:
			marked, err := s.billing.MarkReminded(ctx, sub.ID, periodEnd, subscription.JobTrigger(rep.Job, sub.ID, opts.Now))
			switch {
			case err != nil:
				out.Status = OutcomeFailed
				out.Error = err.Error()
				s.logger.ErrorContext(ctx, "failed to mark renewal reminder",
					logger.Job(rep.Job), logger.SubscriptionID(sub.ID), logger.Error(err))
			case !marked:
				out.Status = OutcomeSkipped
				out.Reason = "already reminded"
			default:
				out.Status = OutcomeApplied
				s.notify(ctx, notify.KindRenewalReminder, sub, periodEnd)
			}
		}
		rep.add(out)
	}
	return nil
}

func (s *sweeps) expirePixCharges(ctx context.Context, rep *Report, opts RunOptions) error {
	pix := true
	return s.invoiceSweep(ctx, rep, opts, "pix_expired", subscription.InvoiceFilter{
		Statuses:         []invoice.Status{invoice.StatusPending, invoice.StatusOverdue},
		PixExpiresBefore: &opts.Now,
		HasPix:           &pix,
	}, s.billing.ExpirePixInvoice)
}

func (s *sweeps) markOverdueInvoices(ctx context.Context, rep *Report, opts RunOptions) error {
	pix := false
	return s.invoiceSweep(ctx, rep, opts, "overdue", subscription.InvoiceFilter{
		Statuses:  []invoice.Status{invoice.StatusPending},
		DueBefore: &opts.Now,
		// PIX charges expire instead of going overdue
		HasPix: &pix,
	}, s.billing.MarkInvoiceOverdue)
}

func (s *sweeps) invoiceSweep(
	ctx context.Context,
	rep *Report,
	opts RunOptions,
	action string,
	filter subscription.InvoiceFilter,
	apply func(ctx context.Context, invoiceID uuid.UUID, trigger subscription.Trigger) (bool, error),
) error {
	filter.Limit = s.cfg.BatchSize
	invoices, err := s.billing.ListInvoices(ctx, filter)
	if err != nil {
		return fmt.Errorf("%s: list invoices: %w", rep.Job, err)
	}

	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := Outcome{ID: inv.ID.String(), TenantID: inv.TenantID, Action: action}
		if opts.DryRun {
			out.Status = OutcomeWouldApply
			rep.add(out)
			continue
		}

		changed, err := apply(ctx, inv.ID, subscription.JobTrigger(rep.Job, inv.SubscriptionID, opts.Now))
		switch {
		case err != nil:
			out.Status = OutcomeFailed
			out.Error = err.Error()
			s.logger.ErrorContext(ctx, "billing job item failed",
				logger.Job(rep.Job), logger.InvoiceID(inv.ID), logger.Error(err))
		case changed:
			out.Status = OutcomeApplied
		default:
			out.Status = OutcomeSkipped
			out.Reason = "invoice unchanged"
		}
		rep.add(out)
	}
	return nil
}

func (s *sweeps) retryWebhooks(ctx context.Context, rep *Report, opts RunOptions) error {
	results, err := s.webhooks.RetryFailed(ctx, opts.Now, opts.DryRun)
	for _, r := range results {
		out := Outcome{
			ID:       r.Provider + ":" + r.EventID,
			TenantID: r.TenantID,
			Action:   "retry_" + r.Type,
			Reason:   r.Reason,
		}
		switch r.Outcome {
		case reconcile.OutcomeProcessed:
			out.Status = OutcomeApplied
		case reconcile.OutcomeWouldRetry:
			out.Status = OutcomeWouldApply
		case reconcile.OutcomeFailed:
			out.Status = OutcomeFailed
			out.Error = r.Reason
			out.Reason = ""
		default:
			out.Status = OutcomeSkipped
		}
		rep.add(out)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", rep.Job, err)
	}
	return nil
}

func (s *sweeps) notify(ctx context.Context, kind notify.Kind, sub *subscription.Subscription, dueAt time.Time) {
	if sub == nil {
		return
	}
	n := notify.Notification{
		Kind:           kind,
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		PlanName:       sub.Plan.Name,
		Amount:         sub.Amount.Amount,
		Currency:       sub.Amount.Currency,
		DueAt:          dueAt,
		Reason:         sub.Metadata.LastFailureReason,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "billing notification not sent",
			slog.String("kind", string(kind)),
			logger.TenantID(sub.TenantID),
			logger.Error(err),
		)
	}
}
