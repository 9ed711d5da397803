package store

import (
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
)

// Transition represents a state machine transition record.
type Transition struct {
	ID        int64       `json:"id" yaml:"id"`
	FromState state.State `json:"from_state" yaml:"from_state"`
	ToState   state.State `json:"to_state" yaml:"to_state"`
	Trigger   string      `json:"trigger" yaml:"trigger"`
	Unstable  bool        `json:"unstable" yaml:"unstable"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// Operation is a finished queue operation.
type Operation struct {
	ID         string        `json:"id" yaml:"id"`
	Name       string        `json:"name" yaml:"name"`
	QueuedAt   time.Time     `json:"queued_at" yaml:"queued_at"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	Duration   time.Duration `json:"duration_ns" yaml:"duration"`
	TimedOut   bool          `json:"timed_out" yaml:"timed_out"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	RecordedAt time.Time     `json:"recorded_at" yaml:"recorded_at"`
}
