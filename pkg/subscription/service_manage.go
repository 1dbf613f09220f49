package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// ChangePlan moves the tenant to another plan. The remote subscription is
// updated first; the local snapshot follows only when that succeeds.
func (s *Service) ChangePlan(ctx context.Context, tenantID uuid.UUID, newPlanID string) (*Subscription, error) {
	plan, err := s.activePlan(newPlanID)
	if err != nil {
		return nil, err
	}
	sub, err := s.currentForChange(ctx, tenantID, EventPlanChanged)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == plan.ID {
		return nil, ErrSamePlan
	}

	snapshot := plan.Snapshot()
	if blocked := usageBlocksDowngrade(ComparePlans(&sub.Plan, &snapshot), sub.Usage); len(blocked) > 0 {
		return nil, fmt.Errorf("%w: usage of %v exceeds the limits of %s", ErrDowngradeNotPossible, blocked, plan.ID)
	}
	params := TransitionParams{Plan: &snapshot, Cycle: sub.BillingCycle}
	if !s.CanTransition(ctx, sub, EventPlanChanged, params) {
		return nil, &InvalidTransitionError{From: sub.Status, Event: EventPlanChanged}
	}

	attempt := sub.ID.String() + ":" + plan.ID + ":" + strconv.FormatInt(sub.UpdatedAt.UnixNano(), 10)
	if sub.GatewaySubscriptionID != "" {
		price := snapshot.Price(sub.BillingCycle)
		if _, err := s.provider.UpdateSubscription(ctx, sub.GatewaySubscriptionID, gateway.SubscriptionUpdate{
			PlanID:   plan.ID,
			PriceRef: plan.GatewayPrices[sub.BillingCycle],
			Amount:   price.Amount,
			Currency: price.Currency,
			Interval: sub.BillingCycle.Interval(),
			Metadata: map[string]string{
				gateway.MetaTenantID:       tenantID.String(),
				gateway.MetaSubscriptionID: sub.ID.String(),
				gateway.MetaPlanID:         plan.ID,
			},
			IdempotencyKey: gateway.IdempotencyKey("plan_change", attempt),
		}); err != nil {
			return nil, err
		}
	}

	res, err := s.Transition(ctx, TransitionRequest{
		SubscriptionID: sub.ID,
		Event:          EventPlanChanged,
		Trigger:        APITrigger(tenantID.String(), "plan_change:"+attempt, s.Now()),
		Params:         params,
	})
	if err != nil {
		return nil, err
	}
	return res.Subscription, nil
}

// CancelSubscription cancels now or at the end of the current period.
// A deferred cancel of a suspended subscription is applied immediately.
func (s *Service) CancelSubscription(ctx context.Context, tenantID uuid.UUID, immediately bool, reason string) (*Subscription, error) {
	sub, err := s.store.FindCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status == StatusSuspended {
		immediately = true
	}
	event := EventScheduleCancel
	if immediately {
		event = EventCancel
	}
	if !s.CanTransition(ctx, sub, event, TransitionParams{}) {
		return nil, &InvalidTransitionError{From: sub.Status, Event: event}
	}

	var pending bool
	if sub.GatewaySubscriptionID != "" {
		_, err := s.provider.CancelSubscription(ctx, sub.GatewaySubscriptionID, gateway.CancelRequest{
			AtPeriodEnd:    !immediately,
			Reason:         reason,
			IdempotencyKey: gateway.IdempotencyKey("cancel", sub.ID.String(), strconv.FormatBool(immediately)),
		})
		switch {
		case err != nil && !immediately:
			return nil, err
		case err != nil:
			// the caller asked for an immediate local stop; the remote side is retried later
			pending = true
			s.logger.WarnContext(ctx, "gateway cancel failed, cancelling locally",
				logger.TenantID(tenantID),
				logger.SubscriptionID(sub.ID),
				logger.Error(err),
			)
		}
	}

	res, err := s.Transition(ctx, TransitionRequest{
		SubscriptionID: sub.ID,
		Event:          event,
		Trigger:        APITrigger(tenantID.String(), string(event)+":"+sub.ID.String()+":"+strconv.FormatInt(sub.UpdatedAt.UnixNano(), 10), s.Now()),
		Params:         TransitionParams{CancelReason: reason, GatewayCancelPending: pending},
	})
	if err != nil {
		return nil, err
	}
	return res.Subscription, nil
}

// Reactivate is the operator move from suspended back to active. It starts a new period.
func (s *Service) Reactivate(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	sub, err := s.currentForChange(ctx, tenantID, EventReactivate)
	if err != nil {
		return nil, err
	}
	attempt := sub.ID.String() + ":" + strconv.FormatInt(sub.UpdatedAt.UnixNano(), 10)
	if sub.GatewaySubscriptionID != "" {
		if _, err := s.provider.ReactivateSubscription(ctx, sub.GatewaySubscriptionID, gateway.IdempotencyKey("reactivate", attempt)); err != nil {
			return nil, err
		}
	}
	res, err := s.Transition(ctx, TransitionRequest{
		SubscriptionID: sub.ID,
		Event:          EventReactivate,
		Trigger:        APITrigger(tenantID.String(), "reactivate:"+attempt, s.Now()),
	})
	if err != nil {
		return nil, err
	}
	return res.Subscription, nil
}

// ResumeSubscription undoes a deferred cancel.
func (s *Service) ResumeSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	sub, err := s.currentForChange(ctx, tenantID, EventResume)
	if err != nil {
		return nil, err
	}
	attempt := sub.ID.String() + ":" + strconv.FormatInt(sub.UpdatedAt.UnixNano(), 10)
	if sub.GatewaySubscriptionID != "" {
		if _, err := s.provider.ReactivateSubscription(ctx, sub.GatewaySubscriptionID, gateway.IdempotencyKey("resume", attempt)); err != nil {
			return nil, err
		}
	}
	res, err := s.Transition(ctx, TransitionRequest{
		SubscriptionID: sub.ID,
		Event:          EventResume,
		Trigger:        APITrigger(tenantID.String(), "resume:"+attempt, s.Now()),
	})
	if err != nil {
		return nil, err
	}
	return res.Subscription, nil
}

// CheckAccess returns nil when the tenant may use the product.
func (s *Service) CheckAccess(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := s.store.FindCurrentByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return errors.Join(ErrSubscriptionInactive, err)
		}
		return err
	}
	return checkAccess(sub, s.Now())
}

// HasFeature reports whether the tenant's plan snapshot includes the feature.
func (s *Service) HasFeature(ctx context.Context, tenantID uuid.UUID, feature Feature) bool {
	sub, err := s.store.FindCurrentByTenant(ctx, tenantID)
	if err != nil || !sub.Status.AccessAllowed() {
		return false
	}
	return sub.Plan.HasFeature(feature)
}

// UsageInfo is the usage and limit of one resource.
type UsageInfo struct {
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
}

// GetUsage returns usage and limits for every resource of the plan snapshot.
func (s *Service) GetUsage(ctx context.Context, tenantID uuid.UUID) (map[Resource]UsageInfo, error) {
	sub, err := s.store.FindCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[Resource]UsageInfo, len(sub.Plan.Limits))
	for res, limit := range sub.Plan.Limits {
		out[res] = UsageInfo{Current: sub.UsageOf(res), Limit: limit}
	}
	return out, nil
}

// CheckLimit returns ErrLimitExceeded when one more unit of the resource does not fit the plan.
func (s *Service) CheckLimit(ctx context.Context, tenantID uuid.UUID, res Resource) error {
	sub, err := s.store.FindCurrentByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := checkAccess(sub, s.Now()); err != nil {
		return err
	}
	return fitsLimit(sub, res, 1)
}

// RecordUsage adds delta to the resource counter and returns the new value.
// Positive deltas that would exceed the limit are refused with ErrLimitExceeded.
func (s *Service) RecordUsage(ctx context.Context, tenantID uuid.UUID, res Resource, delta int64) (int64, error) {
	current, err := currentOpen(ctx, s.store, tenantID)
	if err != nil {
		return 0, err
	}

	var value int64
	err = s.withSubscription(ctx, current.ID, func(ctx context.Context, tx Tx, sub *Subscription) error {
		if delta > 0 {
			if err := fitsLimit(sub, res, delta); err != nil {
				return err
			}
		} else if _, ok := sub.Plan.Limit(res); !ok {
			return fmt.Errorf("%w: %s", ErrInvalidResource, res)
		}

		after := sub.Clone()
		if after.Usage == nil {
			after.Usage = map[Resource]int64{}
		}
		after.Usage[res] = max(after.Usage[res]+delta, 0)
		value = after.Usage[res]

		trigger := Trigger{Source: audit.SourceAPI, Actor: tenantID.String(), OccurredAt: s.Now()}
		return s.save(ctx, tx, sub, after, "subscription.usage_recorded", trigger,
			audit.WithMetadata("resource", string(res)),
			audit.WithMetadata("delta", delta),
		)
	})
	return value, err
}

func fitsLimit(sub *Subscription, res Resource, delta int64) error {
	limit, ok := sub.Plan.Limit(res)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidResource, res)
	}
	if limit == Unlimited {
		return nil
	}
	if sub.UsageOf(res)+delta > limit {
		return fmt.Errorf("%w: %s limit is %d", ErrLimitExceeded, res, limit)
	}
	return nil
}

// currentForChange loads the open subscription of the tenant and checks the event is legal.
func (s *Service) currentForChange(ctx context.Context, tenantID uuid.UUID, event Event) (*Subscription, error) {
	sub, err := s.store.FindCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() || !s.CanTransition(ctx, sub, event, TransitionParams{Plan: &sub.Plan}) {
		return nil, &InvalidTransitionError{From: sub.Status, Event: event}
	}
	return sub, nil
}
