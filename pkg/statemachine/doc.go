// Package statemachine provides a transition table for entities whose
// current state lives outside the machine, typically in a database row.
//
// The package revolves around two minimal interfaces, State and Event.
// A Machine answers one question: given the state an entity is in right now
// and an event, which state does it move to? It handles:
//  1. Transition lookup and validation
//  2. Optional Guard evaluation to accept or reject transitions
//  3. Execution of side-effect Actions during Fire
//
// The machine never stores the current state. Callers load the entity,
// ask the machine, then persist the result inside their own transaction,
// so one Machine can be shared by every request and worker in a process.
//
// # Usage
//
//	const (
//	    Draft    = statemachine.StringState("draft")
//	    InReview = statemachine.StringState("in_review")
//	    Submit   = statemachine.StringEvent("submit")
//	)
//
//	machine := statemachine.MustNew(
//	    statemachine.WithTransition(Draft, InReview, Submit),
//	)
//
//	next, err := machine.Fire(ctx, Draft, Submit, nil)
//
// Several transitions may share the same source state and event. They are
// evaluated in registration order and the first one whose guards pass wins,
// which is how branching on runtime data is expressed.
//
// # Error Handling
//
//	errors.Is(err, statemachine.ErrNoTransition) // not defined
//	errors.Is(err, statemachine.ErrRejected)     // guard said no
//
// # Concurrency
//
// Table guards its map with a RWMutex. Resolve and CanFire take the read
// lock only, so lookups from many goroutines do not contend.
package statemachine
