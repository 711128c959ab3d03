// Package statemachine implements a stateless finite-state-machine table.
//
// A Table maps (from state, event) pairs to transitions. It does not keep a
// current state: callers pass the state they loaded from storage to Fire and
// persist the returned state. This keeps the previous and next state explicit
// at the call site, so side effects that depend on the edge (for example
// "pending -> succeeded") are attached to the transition itself as Actions
// rather than detected later by comparing stored values.
//
// # Usage
//
//	const (
//	    Pending = statemachine.StringState("pending")
//	    Active  = statemachine.StringState("active")
//	    Activate = statemachine.StringEvent("activate")
//	)
//
//	table := statemachine.MustNew(
//	    statemachine.WithTransition(Pending, Active, Activate,
//	        statemachine.WithAction(writeHistory),
//	    ),
//	)
//
//	next, err := table.Fire(ctx, Pending, Activate, sub)
//
// # Guards and Actions
//
// Guards veto a transition based on runtime data. When several transitions
// share the same (from, event) pair, the first one whose guards all pass wins.
// Actions run in registration order after the guards; the first failing
// action aborts the transition and Fire returns the original state.
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* ... */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* ... */ }
//
// # Concurrency
//
// A Table is read-only after New returns and may be shared between goroutines.
package statemachine
