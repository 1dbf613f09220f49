// Package subscription implements the tenant subscription lifecycle.
//
// A Subscription moves through trial, active, past_due and suspended until it
// reaches one of the terminal statuses, cancelled or expired. Every move is an
// Event in a statemachine table; the Service applies events through one code
// path that holds a per-subscription lock, runs in a single Store transaction,
// writes the tenant access flag and appends an audit entry.
//
// Transitions carry a Trigger. Its key is remembered in the subscription
// metadata, so replaying the same webhook or job run is a no-op:
//
//	res, err := svc.Transition(ctx, subscription.TransitionRequest{
//		SubscriptionID: subID,
//		Event:          subscription.EventGraceElapsed,
//		Trigger:        subscription.JobTrigger("check_grace_period", subID, now),
//	})
//	if err != nil {
//		return err
//	}
//	if !res.Applied {
//		log.Debug("already applied", "reason", res.Reason)
//	}
//
// Plans come from a Catalog loaded through a PlansSource (StaticPlans or a
// YAML file). A subscription keeps the PlanSnapshot it was sold under, so
// catalog edits never change what an existing subscriber pays.
//
// # Grace
//
// GraceEndsAt is the one place the grace window is computed. CheckAccess,
// InGracePeriod and the grace sweep all use it.
//
// # Errors
//
// Input problems wrap ErrValidation, missing records wrap ErrNotFound and
// illegal moves are *InvalidTransitionError, which matches ErrInvalidTransition.
package subscription
