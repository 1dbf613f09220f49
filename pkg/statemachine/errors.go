package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid transition: from, to, or event cannot be nil")
	ErrInvalidEvent      = errors.New("invalid event: event cannot be nil")
	ErrInvalidState      = errors.New("invalid state: state cannot be nil")
	ErrEmptyTable        = errors.New("state machine has no transitions")

	// ErrNoTransition means the table has no entry for the state and event.
	ErrNoTransition = errors.New("no transition defined")
	// ErrRejected means entries exist but every guard said no.
	ErrRejected = errors.New("transition rejected by guards")
)

// TransitionError carries the state and event that failed to resolve.
// It unwraps to ErrNoTransition or ErrRejected.
type TransitionError struct {
	State string
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: state %q, event %q", e.Err, e.State, e.Event)
}

func (e *TransitionError) Unwrap() error { return e.Err }
