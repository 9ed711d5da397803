package store

import (
	"context"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
)

// TransitionRepository records session state changes. It is an audit
// trail only; nothing reads it back to restore state.
type TransitionRepository interface {
	LogTransition(ctx context.Context, from, to state.State, trigger string, unstable bool) error
	GetTransitionHistory(ctx context.Context, limit int) ([]Transition, error)
}

// OperationRepository records finished queue operations.
type OperationRepository interface {
	Record(ctx context.Context, op *Operation) error
	Recent(ctx context.Context, limit int) ([]Operation, error)
	Prune(ctx context.Context, keep int) error
}
