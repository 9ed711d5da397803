package api

import (
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/pkg/mcp"
)

// Tool name constants
const (
	// Session
	ToolGetAuthStatus  = "get_auth_status"
	ToolGetPairingCode = "get_pairing_code"
	ToolLogout         = "logout"

	// Messaging
	ToolListChats   = "list_chats"
	ToolSendMessage = "send_message"

	// Diagnostics
	ToolGetSessionStatus     = "get_session_status"
	ToolGetConnectionHistory = "get_connection_history"
	ToolGetOperationHistory  = "get_operation_history"
)

// GetAllTools returns all tool definitions.
func GetAllTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        ToolGetAuthStatus,
			Description: "Check whether WhatsApp is linked and usable",
			InputSchema: emptySchema(),
		},
		{
			Name: ToolGetPairingCode,
			Description: "Start linking a device and return the code to scan with " +
				"WhatsApp > Settings > Linked devices. Fails if already authenticated.",
			InputSchema: emptySchema(),
		},
		{
			Name:        ToolLogout,
			Description: "Unlink the device and delete local credentials",
			InputSchema: emptySchema(),
		},
		{
			Name:        ToolListChats,
			Description: "List WhatsApp group chats, optionally filtered by name or JID",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"filter": prop("string", "Case-insensitive substring of the chat name or JID"),
					"limit":  propInt("Maximum number of chats to return (default: 100)"),
				},
			},
		},
		{
			Name:        ToolSendMessage,
			Description: "Send a text message to a WhatsApp contact or group",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"recipient": prop("string", "Phone number (e.g., +1234567890) or JID of the recipient"),
					"message":   prop("string", "Text message to send"),
				},
				"required": []string{"recipient", "message"},
			},
		},
		{
			Name:        ToolGetSessionStatus,
			Description: "Get session state, queue depth and health counters",
			InputSchema: emptySchema(),
		},
		{
			Name:        ToolGetConnectionHistory,
			Description: "Get recent session state transitions",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": propInt("Maximum number of transitions (default: 20)"),
				},
			},
		},
		{
			Name:        ToolGetOperationHistory,
			Description: "Get recently completed bridge operations",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": propInt("Maximum number of operations (default: 20)"),
				},
			},
		},
	}
}

func emptySchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func prop(typeName, description string) map[string]any {
	return map[string]any{
		"type":        typeName,
		"description": description,
	}
}

func propInt(description string) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": description,
	}
}
