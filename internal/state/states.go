// Package state provides the finite state machine for the bridge session lifecycle.
package state

// State represents a session state in the pairing and authentication lifecycle.
type State string

const (
	StateIdle State = "idle"

	// Login flow
	StateStarting        State = "starting"
	StateQRReady         State = "qr_ready"
	StateAwaitingPairing State = "awaiting_pairing"
	StateSyncing         State = "syncing"
	StateValidating      State = "validating"
	StateAuthenticated   State = "authenticated"

	StateError        State = "error"
	StateShuttingDown State = "shutting_down"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsLoginInProgress returns true while a login process owns the session.
func (s State) IsLoginInProgress() bool {
	switch s {
	case StateStarting, StateQRReady, StateAwaitingPairing, StateSyncing, StateValidating:
		return true
	default:
		return false
	}
}

// IsOperational returns true if bridge commands are expected to succeed.
func (s State) IsOperational() bool {
	return s == StateAuthenticated
}
