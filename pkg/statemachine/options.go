package statemachine

import (
	"fmt"
)

// Option configures a transition table during construction.
type Option func(*Table) error

// TransitionOption configures a single transition with guards and actions.
type TransitionOption func(*transitionConfig)

// TransitionDef defines a transition between states.
type TransitionDef struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard
	Actions []Action
}

type transitionConfig struct {
	guards  []Guard
	actions []Action
}

// New creates a transition table from the given options.
// A table without any transition is rejected.
func New(opts ...Option) (Machine, error) {
	t := newTable()

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	if len(t.transitions) == 0 {
		return nil, ErrEmptyTable
	}

	return t, nil
}

// MustNew is like New but panics on configuration errors.
// Transition tables are usually package-level and built at init.
func MustNew(opts ...Option) Machine {
	m, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return m
}

// WithTransition adds a single transition.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		cfg := &transitionConfig{}
		for _, opt := range opts {
			opt(cfg)
		}

		return t.AddTransition(from, to, event, cfg.guards, cfg.actions)
	}
}

// WithTransitionFrom adds the same event and target for several source states.
// Handy for "any non-terminal state" moves such as cancellation.
func WithTransitionFrom(froms []State, to State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		cfg := &transitionConfig{}
		for _, opt := range opts {
			opt(cfg)
		}

		for _, from := range froms {
			if err := t.AddTransition(from, to, event, cfg.guards, cfg.actions); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithSelfLoops adds a transition that keeps each listed state unchanged.
func WithSelfLoops(states []State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		cfg := &transitionConfig{}
		for _, opt := range opts {
			opt(cfg)
		}

		for _, s := range states {
			if err := t.AddTransition(s, s, event, cfg.guards, cfg.actions); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithTransitions adds multiple transitions at once.
func WithTransitions(transitions []TransitionDef) Option {
	return func(t *Table) error {
		for i, td := range transitions {
			if err := t.AddTransition(td.From, td.To, td.Event, td.Guards, td.Actions); err != nil {
				return fmt.Errorf("failed to add transition[%d] %s->%s on %s: %w",
					i, nameOf(td.From), nameOf(td.To), nameOf(td.Event), err)
			}
		}
		return nil
	}
}

// WithGuard adds a single guard to a transition.
func WithGuard(guard Guard) TransitionOption {
	return func(cfg *transitionConfig) {
		if guard != nil {
			cfg.guards = append(cfg.guards, guard)
		}
	}
}

// WithGuards adds multiple guards to a transition.
func WithGuards(guards ...Guard) TransitionOption {
	return func(cfg *transitionConfig) {
		for _, guard := range guards {
			if guard != nil {
				cfg.guards = append(cfg.guards, guard)
			}
		}
	}
}

// WithAction adds a single action to a transition.
func WithAction(action Action) TransitionOption {
	return func(cfg *transitionConfig) {
		if action != nil {
			cfg.actions = append(cfg.actions, action)
		}
	}
}

type named interface{ Name() string }

func nameOf(v named) string {
	if v == nil {
		return "<nil>"
	}
	return v.Name()
}
