// Package whatsapp normalizes WhatsApp identifiers passed to and read from
// the bridge.
package whatsapp

import (
	"errors"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrInvalidGroup     = errors.New("invalid group JID")
)

// ChatType classifies a chat by its JID server.
type ChatType string

const (
	ChatUser       ChatType = "user"
	ChatGroup      ChatType = "group"
	ChatBroadcast  ChatType = "broadcast"
	ChatNewsletter ChatType = "newsletter"
	ChatUnknown    ChatType = "unknown"
)

var nonDigits = regexp.MustCompile(`[^\d]`)

// ParseRecipient accepts a JID or a phone number in any common format and
// returns the JID the bridge expects.
func ParseRecipient(recipient string) (types.JID, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return types.JID{}, ErrInvalidRecipient
	}

	if strings.Contains(recipient, "@") {
		jid, err := types.ParseJID(recipient)
		if err != nil {
			return types.JID{}, err
		}
		if jid.User == "" && jid.Server != types.BroadcastServer {
			return types.JID{}, ErrInvalidRecipient
		}
		return jid, nil
	}

	phone := nonDigits.ReplaceAllString(recipient, "")
	if phone == "" {
		return types.JID{}, ErrInvalidRecipient
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

// NormalizeRecipient is ParseRecipient returning the string form.
func NormalizeRecipient(recipient string) (string, error) {
	jid, err := ParseRecipient(recipient)
	if err != nil {
		return "", err
	}
	return jid.String(), nil
}

// ParseGroupJID parses jid and requires it to be a group.
func ParseGroupJID(jid string) (types.JID, error) {
	if jid == "" {
		return types.JID{}, ErrInvalidGroup
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return types.JID{}, err
	}
	if parsed.Server != types.GroupServer {
		return types.JID{}, ErrInvalidGroup
	}
	return parsed, nil
}

// Classify returns the chat type implied by a JID string.
func Classify(id string) ChatType {
	if !strings.Contains(id, "@") {
		return ChatUnknown
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return ChatUnknown
	}
	switch jid.Server {
	case types.GroupServer:
		return ChatGroup
	case types.DefaultUserServer, types.HiddenUserServer, types.LegacyUserServer:
		return ChatUser
	case types.BroadcastServer:
		return ChatBroadcast
	case types.NewsletterServer:
		return ChatNewsletter
	default:
		return ChatUnknown
	}
}

// IsJID reports whether s looks like a full JID rather than a phone number.
func IsJID(s string) bool {
	if !strings.Contains(s, "@") {
		return false
	}
	_, err := types.ParseJID(s)
	return err == nil
}
