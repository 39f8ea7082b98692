package workflows

import "fmt"

// StateMachine enforces transitions over a fixed table of states
type StateMachine[S comparable] struct {
	allowedTransitions map[S][]S
}

// NewStateMachine creates a state machine from an adjacency table. States
// mapped to an empty slice are terminal.
func NewStateMachine[S comparable](transitions map[S][]S) *StateMachine[S] {
	return &StateMachine[S]{allowedTransitions: transitions}
}

// NewLinear builds a machine where each state may only advance to the next one.
func NewLinear[S comparable](states ...S) *StateMachine[S] {
	transitions := make(map[S][]S, len(states))
	for i, s := range states {
		if i+1 < len(states) {
			transitions[s] = []S{states[i+1]}
		} else {
			transitions[s] = nil
		}
	}
	return NewStateMachine(transitions)
}

// CanTransition checks if a transition is allowed
func (sm *StateMachine[S]) CanTransition(from, to S) bool {
	for _, allowedTo := range sm.allowedTransitions[from] {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// Transition returns to when the move is allowed
func (sm *StateMachine[S]) Transition(from, to S) (S, error) {
	if !sm.CanTransition(from, to) {
		return from, fmt.Errorf("transition %v -> %v not allowed", from, to)
	}
	return to, nil
}

// GetAllowedTransitions returns the allowed next states for a given state
func (sm *StateMachine[S]) GetAllowedTransitions(from S) []S {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []S{}
	}
	return allowed
}

// Known reports whether s appears in the table.
func (sm *StateMachine[S]) Known(s S) bool {
	_, ok := sm.allowedTransitions[s]
	return ok
}

// IsTerminal reports whether s is known and has no outgoing transitions.
func (sm *StateMachine[S]) IsTerminal(s S) bool {
	allowed, ok := sm.allowedTransitions[s]
	return ok && len(allowed) == 0
}
