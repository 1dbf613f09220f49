package subscription

import "time"

// GraceEndsAt returns when the grace window of sub closes: the period end
// (or trial end, when no period has started) plus GracePeriodDays.
// The zero time means there is no anchor yet.
func GraceEndsAt(sub *Subscription) time.Time {
	anchor := periodAnchor(sub)
	if anchor == nil {
		return time.Time{}
	}
	return anchor.AddDate(0, 0, max(sub.GracePeriodDays, 0))
}

// InGracePeriod reports whether the anchor has passed but the grace window is still open.
func InGracePeriod(sub *Subscription, now time.Time) bool {
	anchor := periodAnchor(sub)
	if anchor == nil || now.Before(*anchor) {
		return false
	}
	return now.Before(GraceEndsAt(sub))
}

func periodAnchor(sub *Subscription) *time.Time {
	if sub.CurrentPeriodEnd != nil {
		return sub.CurrentPeriodEnd
	}
	return sub.TrialEndsAt
}

// checkAccess applies the access rule at now.
func checkAccess(sub *Subscription, now time.Time) error {
	if !sub.Status.AccessAllowed() {
		return ErrSubscriptionInactive
	}
	// also covers a scheduler that has not caught up yet
	if end := GraceEndsAt(sub); !end.IsZero() && !now.Before(end) {
		return ErrGracePeriodExpired
	}
	return nil
}
