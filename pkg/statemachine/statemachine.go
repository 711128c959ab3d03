package statemachine

import "context"

// State and Event are identified by name only.
type (
	State interface{ Name() string }
	Event interface{ Name() string }
)

// Action runs while a transition is applied. An error aborts the transition
// and Fire returns the current state.
type Action func(ctx context.Context, from, to State, event Event, data any) error

// Guard must return true for its transition to be chosen.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition is one row of a Table. Rows sharing From and Event are tried in
// registration order and the first whose guards all pass wins.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard
	Actions []Action
}

// StateMachine resolves transitions for state persisted by the caller: Fire
// takes the state read from storage and returns the one to write back.
type StateMachine interface {
	Fire(ctx context.Context, current State, event Event, data any) (State, error)
	CanFire(ctx context.Context, current State, event Event, data any) bool
	Events(current State) []Event
}

// StringState and StringEvent are for tables whose states need no behaviour.
type (
	StringState string
	StringEvent string
)

func (s StringState) Name() string { return string(s) }
func (e StringEvent) Name() string { return string(e) }
