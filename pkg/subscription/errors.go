package subscription

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the taxonomy root of caller input errors.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is the taxonomy root of missing records.
	ErrNotFound = errors.New("not found")

	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrPlanNotFound         = fmt.Errorf("subscription plan %w", ErrNotFound)
	ErrTenantNotFound       = fmt.Errorf("tenant %w", ErrNotFound)
	ErrInvoiceNotFound      = fmt.Errorf("invoice %w", ErrNotFound)

	ErrSubscriptionExists       = fmt.Errorf("%w: subscription already exists", ErrValidation)
	ErrAlreadyActive            = fmt.Errorf("%w: subscription is already active", ErrValidation)
	ErrPlanInactive             = fmt.Errorf("%w: subscription plan is not active", ErrValidation)
	ErrSamePlan                 = fmt.Errorf("%w: subscription is already on this plan", ErrValidation)
	ErrInvalidPlanConfiguration = fmt.Errorf("%w: invalid subscription plan configuration", ErrValidation)
	ErrInvalidResource          = fmt.Errorf("%w: invalid subscription resource", ErrValidation)
	ErrDowngradeNotPossible     = fmt.Errorf("%w: subscription downgrade not possible", ErrValidation)
	ErrMissingTrigger           = fmt.Errorf("%w: transition trigger key is required", ErrValidation)

	ErrInvalidTransition    = errors.New("invalid subscription transition")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrGracePeriodExpired   = errors.New("subscription grace period has expired")
	ErrLimitExceeded        = errors.New("subscription limit exceeded")
	ErrChargeExpired        = errors.New("payment charge has expired")
	ErrFailedToLoadPlans    = errors.New("failed to load subscription plans")
)

// InvalidTransitionError reports an event that is not legal from the current status.
type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid subscription transition: %s from %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
