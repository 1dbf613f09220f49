package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/statemachine"
)

// Event is a lifecycle event fired against a subscription.
type Event string

// Name implements statemachine.Event.
func (e Event) Name() string { return string(e) }

const (
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventPeriodElapsed    Event = "period_elapsed"
	EventTrialElapsed     Event = "trial_elapsed"
	EventGraceElapsed     Event = "grace_elapsed"
	EventReactivate       Event = "reactivate"
	EventCancel           Event = "cancel"
	EventScheduleCancel   Event = "schedule_cancel"
	EventResume           Event = "resume"
	EventCancellationDue  Event = "cancellation_due"
	EventExpire           Event = "expire"
	EventPlanChanged      Event = "plan_changed"
	EventUsageReset       Event = "usage_reset"
)

// Side effects recorded in the replay window that are not status moves.
const (
	eventRefund          Event = "refund"
	eventFailureRecorded Event = "failure_recorded"
	eventGatewayStatus   Event = "gateway_status"
)

// TransitionParams carries event specific inputs to the transition actions.
type TransitionParams struct {
	PaidAt               time.Time
	FailureReason        string
	Plan                 *PlanSnapshot
	Cycle                BillingCycle
	PaymentMethod        PaymentMethod
	CancelReason         string
	GatewayCancelPending bool
}

// Result describes the outcome of a transition attempt.
type Result struct {
	Subscription *Subscription
	From         Status
	To           Status
	Event        Event
	Applied      bool
	Reason       string // why Applied is false
}

const (
	ReasonDuplicateTrigger = "duplicate trigger"
	ReasonStalePayment     = "stale payment failure"
)

type transitionData struct {
	sub     *Subscription
	trigger Trigger
	now     time.Time
	params  TransitionParams
}

var errTransitionData = errors.New("subscription: unexpected transition data")

func newLifecycle() statemachine.Machine {
	billable := []statemachine.State{StatusTrial, StatusActive, StatusPastDue}
	open := []statemachine.State{StatusTrial, StatusActive, StatusPastDue, StatusSuspended}

	return statemachine.MustNew(
		statemachine.WithTransition(StatusTrial, StatusActive, EventPaymentSucceeded, statemachine.WithAction(startPeriod)),
		statemachine.WithTransition(StatusActive, StatusActive, EventPaymentSucceeded, statemachine.WithAction(renewPeriod)),
		statemachine.WithTransition(StatusPastDue, StatusActive, EventPaymentSucceeded, statemachine.WithAction(renewPeriod)),
		statemachine.WithTransition(StatusSuspended, StatusActive, EventPaymentSucceeded, statemachine.WithAction(startPeriod)),

		statemachine.WithTransitionFrom([]statemachine.State{StatusActive, StatusPastDue}, StatusPastDue, EventPaymentFailed,
			statemachine.WithGuard(notStale), statemachine.WithAction(recordFailure)),

		statemachine.WithTransition(StatusActive, StatusPastDue, EventPeriodElapsed,
			statemachine.WithGuards(periodEnded, noDeferredCancel)),

		statemachine.WithTransition(StatusTrial, StatusPastDue, EventTrialElapsed,
			statemachine.WithGuards(trialEnded, graceConfigured)),
		statemachine.WithTransition(StatusTrial, StatusExpired, EventTrialElapsed,
			statemachine.WithGuard(trialEnded), statemachine.WithAction(expireTrial)),

		statemachine.WithTransition(StatusPastDue, StatusSuspended, EventGraceElapsed,
			statemachine.WithGuard(graceEnded), statemachine.WithAction(suspend)),

		statemachine.WithTransition(StatusSuspended, StatusActive, EventReactivate, statemachine.WithAction(startPeriod)),

		statemachine.WithTransitionFrom(open, StatusCancelled, EventCancel, statemachine.WithAction(cancelNow)),
		statemachine.WithSelfLoops(billable, EventScheduleCancel, statemachine.WithAction(scheduleCancel)),
		statemachine.WithSelfLoops(billable, EventResume,
			statemachine.WithGuard(cancelScheduled), statemachine.WithAction(resume)),
		statemachine.WithTransitionFrom(billable, StatusCancelled, EventCancellationDue,
			statemachine.WithGuards(cancelScheduled, periodEnded), statemachine.WithAction(finalizeCancel)),

		statemachine.WithTransitionFrom(open, StatusExpired, EventExpire, statemachine.WithAction(expireNow)),

		statemachine.WithSelfLoops(billable, EventPlanChanged,
			statemachine.WithGuard(hasPlan), statemachine.WithAction(changePlan)),
		statemachine.WithSelfLoops(billable, EventUsageReset, statemachine.WithAction(resetUsage)),
	)
}

// applyEvent fires event against a copy of sub. sub itself is never modified.
func applyEvent(ctx context.Context, m statemachine.Machine, sub *Subscription, event Event, trigger Trigger, params TransitionParams, now time.Time) (Result, error) {
	res := Result{Subscription: sub, From: sub.Status, To: sub.Status, Event: event}

	if trigger.Key == "" {
		return res, ErrMissingTrigger
	}
	if sub.Metadata.HasApplied(event, trigger.Key) {
		res.Reason = ReasonDuplicateTrigger
		return res, nil
	}

	work := sub.Clone()
	next, err := m.Fire(ctx, sub.Status, event, &transitionData{sub: work, trigger: trigger, now: now, params: params})
	if err != nil {
		switch {
		case event == EventPaymentFailed && errors.Is(err, statemachine.ErrRejected):
			res.Reason = ReasonStalePayment
			return res, nil
		case errors.Is(err, statemachine.ErrNoTransition), errors.Is(err, statemachine.ErrRejected):
			return res, &InvalidTransitionError{From: sub.Status, Event: event}
		}
		return res, err
	}

	status, ok := next.(Status)
	if !ok {
		return res, errTransitionData
	}
	work.Status = status
	work.Metadata.Version = MetadataVersion
	work.Metadata.remember(event, trigger.Key, now)
	work.UpdatedAt = now

	res.Subscription = work
	res.To = status
	res.Applied = true
	return res, nil
}

func dataOf(data any) (*transitionData, bool) {
	td, ok := data.(*transitionData)
	return td, ok && td.sub != nil
}

func guard(fn func(td *transitionData) bool) statemachine.Guard {
	return func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		td, ok := dataOf(data)
		return ok && fn(td)
	}
}

func action(fn func(td *transitionData)) statemachine.Action {
	return func(_ context.Context, _ statemachine.Transition, data any) error {
		td, ok := dataOf(data)
		if !ok {
			return errTransitionData
		}
		fn(td)
		return nil
	}
}

var (
	// a failure that happened before the last confirmed payment must not undo it
	notStale = guard(func(td *transitionData) bool {
		last := td.sub.LastPaymentAt
		return last == nil || td.trigger.OccurredAt.IsZero() || td.trigger.OccurredAt.After(*last)
	})
	periodEnded = guard(func(td *transitionData) bool {
		anchor := periodAnchor(td.sub)
		return anchor != nil && !td.now.Before(*anchor)
	})
	noDeferredCancel = guard(func(td *transitionData) bool {
		return !td.sub.Metadata.CancelAtPeriodEnd
	})
	trialEnded = guard(func(td *transitionData) bool {
		return td.sub.TrialEndsAt != nil && !td.now.Before(*td.sub.TrialEndsAt)
	})
	graceConfigured = guard(func(td *transitionData) bool {
		return td.sub.GracePeriodDays > 0
	})
	graceEnded = guard(func(td *transitionData) bool {
		end := GraceEndsAt(td.sub)
		return !end.IsZero() && !td.now.Before(end)
	})
	cancelScheduled = guard(func(td *transitionData) bool {
		return td.sub.Metadata.CancelAtPeriodEnd
	})
	hasPlan = guard(func(td *transitionData) bool {
		return td.params.Plan != nil
	})
)

var (
	startPeriod = action(func(td *transitionData) {
		at := applyPayment(td)
		beginPeriod(td.sub, at)
	})
	renewPeriod = action(func(td *transitionData) {
		at := applyPayment(td)
		if td.sub.CurrentPeriodEnd == nil {
			beginPeriod(td.sub, at)
			return
		}
		start := *td.sub.CurrentPeriodEnd
		if td.sub.Metadata.BillingAnchorDay == 0 {
			td.sub.Metadata.BillingAnchorDay = start.Day()
		}
		end := td.sub.BillingCycle.AdvanceOnDay(start, td.sub.Metadata.BillingAnchorDay)
		td.sub.CurrentPeriodStart = timePtr(start)
		td.sub.CurrentPeriodEnd = timePtr(end)
		if !td.sub.Metadata.CancelAtPeriodEnd {
			td.sub.NextBillingAt = timePtr(end)
		}
	})
	recordFailure = action(func(td *transitionData) {
		at := td.trigger.OccurredAt
		if at.IsZero() {
			at = td.now
		}
		td.sub.Metadata.LastFailureReason = td.params.FailureReason
		td.sub.Metadata.LastFailureAt = timePtr(at)
	})
	expireTrial = action(func(td *transitionData) {
		td.sub.EndsAt = clonePtr(td.sub.TrialEndsAt)
		td.sub.NextBillingAt = nil
	})
	suspend = action(func(td *transitionData) {
		td.sub.SuspendedAt = timePtr(td.now)
	})
	cancelNow = action(func(td *transitionData) {
		td.sub.CancelledAt = timePtr(td.now)
		td.sub.EndsAt = timePtr(td.now)
		td.sub.NextBillingAt = nil
		td.sub.Metadata.CancelAtPeriodEnd = false
		td.sub.Metadata.CancelReason = td.params.CancelReason
		td.sub.Metadata.GatewayCancelPending = td.params.GatewayCancelPending
	})
	scheduleCancel = action(func(td *transitionData) {
		td.sub.EndsAt = clonePtr(periodAnchor(td.sub))
		td.sub.NextBillingAt = nil
		td.sub.Metadata.CancelAtPeriodEnd = true
		td.sub.Metadata.CancelReason = td.params.CancelReason
	})
	resume = action(func(td *transitionData) {
		td.sub.EndsAt = nil
		td.sub.NextBillingAt = clonePtr(td.sub.CurrentPeriodEnd)
		td.sub.Metadata.CancelAtPeriodEnd = false
		td.sub.Metadata.CancelReason = ""
	})
	finalizeCancel = action(func(td *transitionData) {
		td.sub.CancelledAt = timePtr(td.now)
		td.sub.EndsAt = clonePtr(periodAnchor(td.sub))
	})
	expireNow = action(func(td *transitionData) {
		td.sub.EndsAt = timePtr(td.now)
		td.sub.NextBillingAt = nil
	})
	changePlan = action(func(td *transitionData) {
		applyPlan(td.sub, td.params.Plan, td.params.Cycle)
	})
	resetUsage = action(func(td *transitionData) {
		td.sub.Usage = map[Resource]int64{}
		td.sub.UsageResetAt = timePtr(td.now)
	})
)

// applyPayment records the payment on the working copy and returns the payment time.
func applyPayment(td *transitionData) time.Time {
	at := td.params.PaidAt
	if at.IsZero() {
		at = td.now
	}
	if td.params.Plan != nil || td.params.Cycle != "" {
		applyPlan(td.sub, td.params.Plan, td.params.Cycle)
	}
	if td.params.PaymentMethod != "" {
		td.sub.PaymentMethod = td.params.PaymentMethod
	}
	td.sub.LastPaymentAt = timePtr(at)
	td.sub.SuspendedAt = nil
	td.sub.Metadata.LastFailureReason = ""
	td.sub.Metadata.LastFailureAt = nil
	return at
}

func beginPeriod(sub *Subscription, at time.Time) {
	end := sub.BillingCycle.Advance(at)
	sub.Metadata.BillingAnchorDay = at.Day()
	sub.CurrentPeriodStart = timePtr(at)
	sub.CurrentPeriodEnd = timePtr(end)
	if !sub.Metadata.CancelAtPeriodEnd {
		sub.NextBillingAt = timePtr(end)
	}
}

func applyPlan(sub *Subscription, plan *PlanSnapshot, cycle BillingCycle) {
	if cycle.Valid() {
		sub.BillingCycle = cycle
	}
	if plan != nil {
		sub.PlanID = plan.PlanID
		sub.Plan = plan.clone()
	}
	sub.Amount = sub.Plan.Price(sub.BillingCycle)
}
