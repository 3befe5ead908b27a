package sandbox

import (
	"fmt"
	"sync"
)

// State is the lifecycle phase of a single sandbox instance.
type State string

const (
	StateUnloaded     State = "unloaded"
	StateValidating   State = "validating"
	StateInstantiated State = "instantiated"
	StateExecuting    State = "executing"
	StateCompleted    State = "completed"
	StateTrapped      State = "trapped"
	StateTimedOut     State = "timed_out"
)

// validTransitions encodes the lifecycle. Terminal states have no
// outgoing edges; a fresh instance is created for every invocation.
var validTransitions = map[State][]State{
	StateUnloaded:     {StateValidating},
	StateValidating:   {StateInstantiated, StateTrapped},
	StateInstantiated: {StateExecuting, StateTrapped},
	StateExecuting:    {StateCompleted, StateTrapped, StateTimedOut},
}

// StateMachine tracks one instance's lifecycle and rejects impossible
// transitions. Safe for concurrent reads.
type StateMachine struct {
	mu    sync.Mutex
	state State
}

// NewStateMachine starts in StateUnloaded.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateUnloaded}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the target state or fails when the edge does not
// exist.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range validTransitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid sandbox state transition %s -> %s", m.state, to)
}

// Terminal reports whether the instance has finished, one way or
// another.
func (m *StateMachine) Terminal() bool {
	switch m.Current() {
	case StateCompleted, StateTrapped, StateTimedOut:
		return true
	}
	return false
}
