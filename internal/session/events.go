package session

import (
	"time"
)

// EventType represents the type of session event.
type EventType int

const (
	EventPairingCode EventType = iota
	EventLoggedIn
	EventAuthenticated
	EventValidationFailed
	EventSessionDropped
	EventSessionStale
	EventLoggedOut
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventPairingCode:
		return "pairing_code"
	case EventLoggedIn:
		return "logged_in"
	case EventAuthenticated:
		return "authenticated"
	case EventValidationFailed:
		return "validation_failed"
	case EventSessionDropped:
		return "session_dropped"
	case EventSessionStale:
		return "session_stale"
	case EventLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Event represents a session event.
type Event struct {
	Type      EventType
	Payload   any
	Timestamp time.Time
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(t EventType, payload any) Event {
	return Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// PairingCodePayload carries a freshly detected pairing code. Raw is set
// only when the bridge printed the unrendered payload.
type PairingCodePayload struct {
	Code string
	Raw  string
}

// AuthenticatedPayload identifies the account after a successful login.
type AuthenticatedPayload struct {
	Identity string
}

// ReasonPayload explains a drop, wipe, or failed validation.
type ReasonPayload struct {
	Reason string
}
