package api

import (
	"context"
	"strings"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/pkg/mcp"
)

// Messaging tool handlers

func (h *Handler) handleListChats(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	limit := getInt(args, "limit", 100)
	if limit <= 0 {
		return h.errorResult(NewInvalidInputError("limit must be positive"))
	}

	chats, err := h.session.ListChats(ctx, getString(args, "filter"))
	if err != nil {
		return h.errorResult(FromError(err))
	}
	if len(chats) > limit {
		chats = chats[:limit]
	}
	return h.successResult(chats)
}

func (h *Handler) handleSendMessage(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	recipient := getString(args, "recipient")
	if strings.TrimSpace(recipient) == "" {
		return h.errorResult(NewInvalidInputError("recipient is required"))
	}
	message := getString(args, "message")
	if strings.TrimSpace(message) == "" {
		return h.errorResult(NewInvalidInputError("message is required"))
	}

	if err := h.session.SendMessage(ctx, recipient, message); err != nil {
		return h.errorResult(FromError(err))
	}
	return h.successResult(map[string]any{
		"success":   true,
		"recipient": recipient,
	})
}
