package statemachine

import (
	"context"
	"fmt"
)

// Machine is an immutable transition table. It holds no current state: the
// caller passes the state it loaded (a database row, a document) and persists
// the returned one. A single Machine is safe for concurrent use.
type Machine struct {
	// [fromState][event][]Transition
	transitions map[string]map[string][]Transition
}

func newMachine() *Machine {
	return &Machine{transitions: make(map[string]map[string][]Transition)}
}

func (m *Machine) addTransition(from, to State, event Event, guards []Guard, actions []Action) error {
	if from == nil || to == nil || event == nil {
		return ErrInvalidTransition
	}

	byEvent, ok := m.transitions[from.Name()]
	if !ok {
		byEvent = make(map[string][]Transition)
		m.transitions[from.Name()] = byEvent
	}

	// Multiple transitions for the same from/event are evaluated in order, first passing guards wins.
	byEvent[event.Name()] = append(byEvent[event.Name()], Transition{
		From:    from,
		To:      to,
		Event:   event,
		Guards:  guards,
		Actions: actions,
	})
	return nil
}

// Fire resolves the transition for event out of from, runs its actions and
// returns the target state. On any error the caller must keep from.
func (m *Machine) Fire(ctx context.Context, from State, event Event, data any) (State, error) {
	if from == nil || event == nil {
		return from, ErrInvalidEvent
	}

	t, err := m.resolve(ctx, from, event, data)
	if err != nil {
		return from, err
	}

	for _, action := range t.Actions {
		if err := action(ctx, from, t.To, event, data); err != nil {
			return from, fmt.Errorf("action failed: %w", err)
		}
	}

	return t.To, nil
}

// CanFire reports whether event has a transition out of from whose guards pass.
func (m *Machine) CanFire(ctx context.Context, from State, event Event, data any) bool {
	if from == nil || event == nil {
		return false
	}
	_, err := m.resolve(ctx, from, event, data)
	return err == nil
}

// Events lists the event names defined out of from, regardless of guards.
func (m *Machine) Events(from State) []string {
	if from == nil {
		return nil
	}
	byEvent := m.transitions[from.Name()]
	out := make([]string, 0, len(byEvent))
	for name := range byEvent {
		out = append(out, name)
	}
	return out
}

func (m *Machine) resolve(ctx context.Context, from State, event Event, data any) (*Transition, error) {
	candidates := m.transitions[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return nil, NewErrNoTransitionAvailable(from.Name(), event.Name())
	}

	for i := range candidates {
		if guardsPass(ctx, &candidates[i], from, event, data) {
			return &candidates[i], nil
		}
	}
	return nil, NewErrTransitionRejected(from.Name(), event.Name())
}

func guardsPass(ctx context.Context, t *Transition, from State, event Event, data any) bool {
	for _, guard := range t.Guards {
		if !guard(ctx, from, event, data) {
			return false
		}
	}
	return true
}
