package api

import (
	"context"
	"encoding/base64"

	"github.com/skip2/go-qrcode"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/pkg/mcp"
)

// pairingImageSize is the PNG edge length in pixels.
const pairingImageSize = 256

// Session tool handlers

func (h *Handler) handleGetAuthStatus(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	authenticated := h.session.IsAuthenticated(ctx)

	result := map[string]any{
		"authenticated": authenticated,
		"state":         h.session.State(),
	}
	if authenticated {
		result["identity"] = h.session.Identity()
	}
	return h.successResult(result)
}

func (h *Handler) handleGetPairingCode(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	code, err := h.session.GetPairingCode(ctx)
	if err != nil {
		return h.errorResult(FromError(err))
	}

	content := []mcp.ContentBlock{
		mcp.TextContent("Scan this code with WhatsApp > Settings > Linked devices:\n\n" + code),
	}
	if raw := h.session.PairingCodeRaw(); raw != "" {
		png, err := qrcode.Encode(raw, qrcode.Medium, pairingImageSize)
		if err == nil {
			content = append(content, mcp.ImageContent("image/png", base64.StdEncoding.EncodeToString(png)))
		}
	}
	return &mcp.CallToolResult{Content: content}, nil
}

func (h *Handler) handleLogout(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if err := h.session.Logout(ctx); err != nil {
		return h.errorResult(FromError(err))
	}
	return h.successResult(map[string]any{
		"success": true,
		"message": "Logged out",
	})
}
