package session

import (
	"errors"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/whatsapp"
)

// Caller-facing errors. The messages are stable and may be shown as-is.
var (
	ErrNotAuthenticated     = errors.New("Not authenticated - please login first")
	ErrAlreadyAuthenticated = errors.New("Already authenticated")
	ErrAuthenticationLost   = errors.New("Authentication lost - please re-authenticate")
	ErrSessionUnstable      = errors.New("Session is unstable - please re-authenticate")
	ErrNoPairingOutput      = errors.New("login produced no output before timeout")
	ErrEmptyMessage         = errors.New("message text is empty")
	ErrInvalidRecipient     = whatsapp.ErrInvalidRecipient
)
