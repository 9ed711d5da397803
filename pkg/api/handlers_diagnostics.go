package api

import (
	"context"
	"errors"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/pkg/mcp"
)

var errNoHistory = errors.New("history store is disabled")

// Diagnostics tool handlers

func (h *Handler) handleGetSessionStatus(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	return h.successResult(h.health.GetStatus())
}

func (h *Handler) handleGetConnectionHistory(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if h.store == nil {
		return h.errorResult(NewInternalError(errNoHistory))
	}
	limit := getInt(args, "limit", 20)

	history, err := h.store.State.GetTransitionHistory(ctx, limit)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}
	return h.successResult(history)
}

func (h *Handler) handleGetOperationHistory(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if h.store == nil {
		return h.errorResult(NewInternalError(errNoHistory))
	}
	limit := getInt(args, "limit", 20)

	ops, err := h.store.Operations.Recent(ctx, limit)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}
	return h.successResult(ops)
}
