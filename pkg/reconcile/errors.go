package reconcile

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

var (
	ErrUnknownProvider = gateway.ErrUnknownProvider
	ErrDuplicateEvent  = errors.New("webhook event already handled")
	ErrEventNotFound   = errors.New("webhook event not found")
)

// DuplicateEventError is returned for a delivery whose (provider, event id)
// was already processed, skipped or is being processed right now.
// The delivery must be acknowledged without side effects.
type DuplicateEventError struct {
	Provider string
	EventID  string
	Status   Status
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("webhook event %s/%s already handled (%s)", e.Provider, e.EventID, e.Status)
}

func (e *DuplicateEventError) Is(target error) bool { return target == ErrDuplicateEvent }

// IsDuplicate reports whether err is a DuplicateEventError.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}
