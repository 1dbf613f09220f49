package audit

import "errors"

var (
	// ErrStorageNotAvailable is returned by storage that is closed or unreachable.
	ErrStorageNotAvailable = errors.New("audit storage unavailable")
	// ErrEventValidation wraps every Event.Validate failure.
	ErrEventValidation = errors.New("invalid audit event")
)
