// Package api exposes the session manager as MCP tools.
package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/queue"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/session"
)

// Error codes
const (
	ErrNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	ErrAuthLost             = "AUTH_LOST"
	ErrSessionUnstable      = "SESSION_UNSTABLE"
	ErrTimeout              = "TIMEOUT"
	ErrOperationFailed      = "OPERATION_FAILED"
	ErrInvalidInput         = "INVALID_INPUT"
	ErrInternal             = "INTERNAL_ERROR"
)

// MCPError represents a structured error for MCP responses.
type MCPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JSON returns the error as a JSON string.
func (e *MCPError) JSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// NewInvalidInputError creates an error for invalid input.
func NewInvalidInputError(message string) *MCPError {
	return &MCPError{Code: ErrInvalidInput, Message: message}
}

// NewInternalError creates an error for internal errors.
func NewInternalError(err error) *MCPError {
	return &MCPError{Code: ErrInternal, Message: fmt.Sprintf("Internal error: %s", err.Error())}
}

// FromError maps a session error to its MCP form. The session's messages
// are kept verbatim.
func FromError(err error) *MCPError {
	var cmdErr *bridge.CommandError
	var spawnErr *bridge.SpawnError

	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		return &MCPError{Code: ErrNotAuthenticated, Message: err.Error()}
	case errors.Is(err, session.ErrAlreadyAuthenticated):
		return &MCPError{Code: ErrAlreadyAuthenticated, Message: err.Error()}
	case errors.Is(err, session.ErrAuthenticationLost):
		return &MCPError{Code: ErrAuthLost, Message: err.Error()}
	case errors.Is(err, session.ErrSessionUnstable):
		return &MCPError{Code: ErrSessionUnstable, Message: err.Error()}
	case errors.Is(err, queue.ErrTimeout), errors.Is(err, bridge.ErrCommandTimeout):
		return &MCPError{Code: ErrTimeout, Message: err.Error(), Retry: true}
	case errors.Is(err, session.ErrInvalidRecipient), errors.Is(err, session.ErrEmptyMessage):
		return NewInvalidInputError(err.Error())
	case errors.As(err, &cmdErr):
		return &MCPError{Code: ErrOperationFailed, Message: err.Error(), Retry: true}
	case errors.As(err, &spawnErr), errors.Is(err, session.ErrNoPairingOutput):
		return &MCPError{Code: ErrOperationFailed, Message: err.Error()}
	default:
		return NewInternalError(err)
	}
}
