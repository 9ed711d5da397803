package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/health"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/store"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/pkg/mcp"
)

// Session defines the session operations the tools call.
type Session interface {
	IsAuthenticated(ctx context.Context) bool
	GetPairingCode(ctx context.Context) (string, error)
	PairingCodeRaw() string
	Logout(ctx context.Context) error
	ListChats(ctx context.Context, filter string) ([]bridge.Chat, error)
	SendMessage(ctx context.Context, recipient, text string) error
	State() state.State
	Identity() string
}

// Handler implements the MCP ToolHandler interface.
type Handler struct {
	session Session
	health  *health.Monitor
	store   *store.SQLiteStore
}

// NewHandler creates a new tool handler. storeDB may be nil, in which case
// the history tools report an error.
func NewHandler(s Session, monitor *health.Monitor, storeDB *store.SQLiteStore) *Handler {
	return &Handler{
		session: s,
		health:  monitor,
		store:   storeDB,
	}
}

// GetTools returns all available tool definitions.
func (h *Handler) GetTools() []mcp.Tool {
	return GetAllTools()
}

// HandleTool handles a tool invocation and returns the result.
func (h *Handler) HandleTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	// Session
	case ToolGetAuthStatus:
		return h.handleGetAuthStatus(ctx, args)
	case ToolGetPairingCode:
		return h.handleGetPairingCode(ctx, args)
	case ToolLogout:
		return h.handleLogout(ctx, args)

	// Messaging
	case ToolListChats:
		return h.handleListChats(ctx, args)
	case ToolSendMessage:
		return h.handleSendMessage(ctx, args)

	// Diagnostics
	case ToolGetSessionStatus:
		return h.handleGetSessionStatus(ctx, args)
	case ToolGetConnectionHistory:
		return h.handleGetConnectionHistory(ctx, args)
	case ToolGetOperationHistory:
		return h.handleGetOperationHistory(ctx, args)

	default:
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("Unknown tool: %s", name)))
	}
}

// Helper methods

func (h *Handler) successResult(data any) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, NewInternalError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(string(jsonData))},
	}, nil
}

func (h *Handler) errorResult(err *MCPError) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(err.JSON())},
		IsError: true,
	}, nil
}

func getString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]any, key string, defaultVal int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return defaultVal
}
