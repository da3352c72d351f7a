// Package statemachine provides a stateless finite-state-machine engine.
//
// A Machine is a transition table built once at startup. It never stores a
// current state: callers load the state of an entity, call Fire with it and
// persist the returned state. This keeps one table shared by every
// subscription, order or document the process handles.
//
// Usage:
//
//	const (
//	    Active  = statemachine.StringState("active")
//	    Expired = statemachine.StringState("expired")
//	    Lapse   = statemachine.StringEvent("lapse")
//	)
//
//	machine := statemachine.MustNew(
//	    statemachine.WithTransition(Active, Expired, Lapse,
//	        statemachine.WithGuard(isDue),
//	        statemachine.WithAction(archive),
//	    ),
//	)
//
//	next, err := machine.Fire(ctx, Active, Lapse, sub)
//
// Guards veto a transition; when several transitions share a from/event pair
// the first one whose guards all pass is taken. Actions run after the guards
// and before Fire returns; an action error aborts the transition.
//
// Fire distinguishes an undefined transition from one rejected by guards:
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* ... */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* ... */ }
package statemachine
