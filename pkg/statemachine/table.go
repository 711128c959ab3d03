package statemachine

import (
	"context"
	"fmt"
)

var _ StateMachine = (*Table)(nil)

// Table is an immutable transition table keyed by [fromState][event].
// It is safe for concurrent use once built.
type Table struct {
	transitions map[string]map[string][]Transition
	order       map[string][]Event
}

func newTable() *Table {
	return &Table{
		transitions: make(map[string]map[string][]Transition),
		order:       make(map[string][]Event),
	}
}

func (t *Table) add(from, to State, event Event, guards []Guard, actions []Action) error {
	if from == nil || to == nil || event == nil {
		return ErrInvalidTransition
	}

	fromName := from.Name()
	eventName := event.Name()

	if _, ok := t.transitions[fromName]; !ok {
		t.transitions[fromName] = make(map[string][]Transition)
	}
	if _, ok := t.transitions[fromName][eventName]; !ok {
		t.order[fromName] = append(t.order[fromName], event)
	}

	// Multiple transitions allowed for same from/event to support guard-based branching
	t.transitions[fromName][eventName] = append(t.transitions[fromName][eventName], Transition{
		From:    from,
		To:      to,
		Event:   event,
		Guards:  guards,
		Actions: actions,
	})
	return nil
}

// Fire resolves the transition for current+event, runs its actions and returns the target state.
// On any error the returned state is current.
func (t *Table) Fire(ctx context.Context, current State, event Event, data any) (State, error) {
	if current == nil {
		return nil, ErrInvalidState
	}
	if event == nil {
		return current, ErrInvalidEvent
	}

	transitions := t.transitions[current.Name()][event.Name()]
	if len(transitions) == 0 {
		return current, &TransitionError{From: current.Name(), Event: event.Name(), Reason: ErrNoTransition}
	}

	// First transition with passing guards wins (enables priority ordering)
	tr := firstAllowed(ctx, transitions, current, event, data)
	if tr == nil {
		return current, &TransitionError{From: current.Name(), Event: event.Name(), Reason: ErrRejected}
	}

	for _, action := range tr.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, current, tr.To, event, data); err != nil {
			return current, fmt.Errorf("action failed: %w", err)
		}
	}

	return tr.To, nil
}

// CanFire reports whether Fire would find an allowed transition. Actions are not run.
func (t *Table) CanFire(ctx context.Context, current State, event Event, data any) bool {
	if current == nil || event == nil {
		return false
	}
	transitions := t.transitions[current.Name()][event.Name()]
	return firstAllowed(ctx, transitions, current, event, data) != nil
}

// Events lists events defined for the state in registration order, ignoring guards.
func (t *Table) Events(current State) []Event {
	if current == nil {
		return nil
	}
	events := t.order[current.Name()]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

func firstAllowed(ctx context.Context, transitions []Transition, current State, event Event, data any) *Transition {
	for i, tr := range transitions {
		allowed := true
		for _, guard := range tr.Guards {
			if guard != nil && !guard(ctx, current, event, data) {
				allowed = false
				break
			}
		}
		if allowed {
			return &transitions[i]
		}
	}
	return nil
}
