package statemachine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Table is a thread-safe transition table.
// Lookups use a nested map keyed [fromState][event] holding ordered candidates.
type Table struct {
	transitions map[string]map[string][]Transition
	events      map[string]Event
	mu          sync.RWMutex
}

func newTable() *Table {
	return &Table{
		transitions: make(map[string]map[string][]Transition),
		events:      make(map[string]Event),
	}
}

func (t *Table) AddTransition(from, to State, event Event, guards []Guard, actions []Action) error {
	if from == nil || to == nil || event == nil {
		return ErrInvalidTransition
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fromName := from.Name()
	eventName := event.Name()

	if _, ok := t.transitions[fromName]; !ok {
		t.transitions[fromName] = make(map[string][]Transition)
	}

	// Multiple transitions allowed for same from/event to support guard-based branching
	t.transitions[fromName][eventName] = append(t.transitions[fromName][eventName], Transition{
		From:    from,
		To:      to,
		Event:   event,
		Guards:  guards,
		Actions: actions,
	})
	t.events[eventName] = event
	return nil
}

func (t *Table) Resolve(ctx context.Context, from State, event Event, data any) (Transition, error) {
	if from == nil {
		return Transition{}, ErrInvalidState
	}
	if event == nil {
		return Transition{}, ErrInvalidEvent
	}

	t.mu.RLock()
	candidates := t.transitions[from.Name()][event.Name()]
	t.mu.RUnlock()

	if len(candidates) == 0 {
		return Transition{}, &TransitionError{State: from.Name(), Event: event.Name(), Err: ErrNoTransition}
	}

	// First transition with passing guards wins (enables priority ordering)
	for _, tr := range candidates {
		if guardsPass(ctx, tr, from, event, data) {
			return tr, nil
		}
	}

	return Transition{}, &TransitionError{State: from.Name(), Event: event.Name(), Err: ErrRejected}
}

func (t *Table) Fire(ctx context.Context, from State, event Event, data any) (State, error) {
	tr, err := t.Resolve(ctx, from, event, data)
	if err != nil {
		return from, err
	}

	for _, action := range tr.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, tr, data); err != nil {
			return from, fmt.Errorf("action failed: %w", err)
		}
	}

	return tr.To, nil
}

func (t *Table) CanFire(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.Resolve(ctx, from, event, data)
	return err == nil
}

func (t *Table) Events(from State) []Event {
	if from == nil {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	byEvent := t.transitions[from.Name()]
	names := make([]string, 0, len(byEvent))
	for name, candidates := range byEvent {
		if len(candidates) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	events := make([]Event, 0, len(names))
	for _, name := range names {
		events = append(events, t.events[name])
	}
	return events
}

func (t *Table) IsFinal(state State) bool {
	if state == nil {
		return true
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, candidates := range t.transitions[state.Name()] {
		if len(candidates) > 0 {
			return false
		}
	}
	return true
}

func guardsPass(ctx context.Context, tr Transition, from State, event Event, data any) bool {
	for _, guard := range tr.Guards {
		if guard != nil && !guard(ctx, from, event, data) {
			return false
		}
	}
	return true
}
