package statemachine

import (
	"context"
)

// State represents a state in the state machine.
type State interface {
	Name() string
}

// Event represents an event that can trigger a state transition.
type Event interface {
	Name() string
}

// Action executes side effects during a transition. Returning an error aborts it.
type Action func(ctx context.Context, t Transition, data any) error

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition defines a state change triggered by an event, with optional guards and actions.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard  // All must pass for transition to proceed
	Actions []Action // Executed in order by Fire
}

// IsSelfLoop reports whether the transition keeps the entity in the same state.
func (t Transition) IsSelfLoop() bool {
	return t.From != nil && t.To != nil && t.From.Name() == t.To.Name()
}

// Machine is a transition table for entities whose current state is persisted
// elsewhere (a database row, a document). It holds no current state itself:
// callers pass the state they loaded and store the state it returns.
type Machine interface {
	AddTransition(from, to State, event Event, guards []Guard, actions []Action) error
	// Resolve finds the transition that would fire without running actions.
	Resolve(ctx context.Context, from State, event Event, data any) (Transition, error)
	// Fire resolves the transition, runs its actions and returns the target state.
	Fire(ctx context.Context, from State, event Event, data any) (State, error)
	CanFire(ctx context.Context, from State, event Event, data any) bool
	// Events lists the events that have at least one transition out of the state.
	Events(from State) []Event
	// IsFinal reports whether the state has no outgoing transitions.
	IsFinal(state State) bool
}

// StringState provides a simple string-based state implementation for basic use cases.
type StringState string

func (s StringState) Name() string {
	return string(s)
}

// StringEvent provides a simple string-based event implementation for basic use cases.
type StringEvent string

func (e StringEvent) Name() string {
	return string(e)
}
