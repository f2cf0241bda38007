// Package crawl defines the orchestrator's crawl-cycle state machine.
package crawl

import (
	"errors"
	"sync"
	"time"
)

// State is a phase of one crawl cycle.
type State string

const (
	StateIdle              State = "idle"
	StateProbing           State = "probing"
	StateDispatching       State = "dispatching"
	StateWaitingForWorkers State = "waiting_for_workers"
	StateAggregating       State = "aggregating"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Every state can fall back to Idle when the cycle is rescheduled.
var ValidTransitions = map[State][]State{
	StateIdle:              {StateProbing},
	StateProbing:           {StateDispatching, StateIdle},
	StateDispatching:       {StateWaitingForWorkers, StateAggregating, StateIdle},
	StateWaitingForWorkers: {StateAggregating, StateIdle},
	StateAggregating:       {StateIdle},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// Index returns a stable number for the state, used as a gauge value.
func (s State) Index() float64 {
	switch s {
	case StateProbing:
		return 1
	case StateDispatching:
		return 2
	case StateWaitingForWorkers:
		return 3
	case StateAggregating:
		return 4
	default:
		return 0
	}
}

// Machine holds the current state and rejects invalid moves. It is safe for
// concurrent readers.
type Machine struct {
	mu       sync.RWMutex
	current  State
	onChange func(Transition)
}

// NewMachine starts in Idle.
func NewMachine(onChange func(Transition)) *Machine {
	return &Machine{current: StateIdle, onChange: onChange}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// To moves to the next state.
func (m *Machine) To(next State, reason string) error {
	m.mu.Lock()
	t := NewTransition(m.current, next, reason)
	if !t.IsValid() {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.current = next
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(t)
	}
	return nil
}
