package channel

import (
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		to    State
		valid bool
	}{
		{"disconnected to connecting", StateDisconnected, StateConnecting, true},
		{"disconnected to closed", StateDisconnected, StateClosed, true},
		{"disconnected to connected", StateDisconnected, StateConnected, false},
		{"connecting to connected", StateConnecting, StateConnected, true},
		{"connecting to reconnecting", StateConnecting, StateReconnecting, true},
		{"connecting to disconnected", StateConnecting, StateDisconnected, false},
		{"connected to reconnecting", StateConnected, StateReconnecting, true},
		{"connected to disconnected", StateConnected, StateDisconnected, true},
		{"connected to connecting", StateConnected, StateConnecting, false},
		{"reconnecting to connecting", StateReconnecting, StateConnecting, true},
		{"reconnecting to disconnected", StateReconnecting, StateDisconnected, true},
		{"reconnecting to connected", StateReconnecting, StateConnected, false},
		{"closed is terminal", StateClosed, StateConnecting, false},
		{"closed to disconnected", StateClosed, StateDisconnected, false},
		{"unknown state", State("bogus"), StateConnecting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanTransition(tt.from, tt.to)
			if got != tt.valid {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.valid)
			}
		})
	}
}

func TestEveryStateCanClose(t *testing.T) {
	for _, s := range AllStates {
		if s == StateClosed {
			continue
		}
		if !CanTransition(s, StateClosed) {
			t.Errorf("%s cannot transition to closed", s)
		}
	}
}

func TestTransition_IsValid(t *testing.T) {
	tr := NewTransition(StateConnecting, StateConnected, "dial ok")
	if !tr.IsValid() {
		t.Error("expected transition to be valid")
	}
	if tr.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	tr = NewTransition(StateClosed, StateConnecting, "reopen")
	if tr.IsValid() {
		t.Error("expected transition out of closed to be invalid")
	}
}

func TestStateDescription(t *testing.T) {
	for _, s := range AllStates {
		if StateDescription(s) == "Unknown state" {
			t.Errorf("missing description for %s", s)
		}
	}
	if StateDescription(State("bogus")) != "Unknown state" {
		t.Error("expected unknown description")
	}
}
