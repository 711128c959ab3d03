package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("statemachine: transition needs from, to and event")
	ErrInvalidEvent      = errors.New("statemachine: event is nil")
	ErrInvalidState      = errors.New("statemachine: current state is nil")

	ErrNoTransition = errors.New("statemachine: no transition")
	ErrRejected     = errors.New("statemachine: rejected by guards")
)

// TransitionError reports a Fire that could not move out of From. Reason is
// ErrNoTransition or ErrRejected.
type TransitionError struct {
	From   string
	Event  string
	Reason error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %q on %q", e.Reason, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return e.Reason }

// IsNoTransitionAvailableError reports whether the table has no transition
// for the state and event.
func IsNoTransitionAvailableError(err error) bool {
	return errors.Is(err, ErrNoTransition)
}

// IsTransitionRejectedError reports whether every matching transition was
// blocked by a guard.
func IsTransitionRejectedError(err error) bool {
	return errors.Is(err, ErrRejected)
}
