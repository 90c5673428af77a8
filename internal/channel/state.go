package channel

import (
	"errors"
	"time"

	"github.com/vietddude/resilink/internal/core/domain"
)

// State is an alias for domain.ConnectionState for internal use.
type State = domain.ConnectionState

const (
	StateDisconnected = domain.ConnectionDisconnected
	StateConnecting   = domain.ConnectionConnecting
	StateConnected    = domain.ConnectionConnected
	StateReconnecting = domain.ConnectionReconnecting
	StateClosed       = domain.ConnectionClosed
)

// AllStates lists every state, for metrics.
var AllStates = []State{
	StateDisconnected,
	StateConnecting,
	StateConnected,
	StateReconnecting,
	StateClosed,
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateConnected, StateReconnecting, StateClosed},
	StateConnected:    {StateDisconnected, StateReconnecting, StateClosed},
	StateReconnecting: {StateConnecting, StateDisconnected, StateClosed},
	StateClosed:       {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
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

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateDisconnected:
		return "Disconnected - idle, no reconnect scheduled"
	case StateConnecting:
		return "Connecting - dial in progress"
	case StateConnected:
		return "Connected - channel open, heartbeat running"
	case StateReconnecting:
		return "Reconnecting - waiting for the backoff timer"
	case StateClosed:
		return "Closed - shut down by the application"
	default:
		return "Unknown state"
	}
}
