package bridge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mdp/qrterminal/v3"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/whatsapp"
)

// AuthStatus is the classified outcome of an auth check.
type AuthStatus int

const (
	AuthFailed AuthStatus = iota
	AuthOK
	AuthNotLoggedIn
	// AuthDisconnected: exit 0 but the bridge reports the device was
	// disconnected.
	AuthDisconnected
	// AuthStaleCredentials: exit 0 with no identity in the output. The
	// credentials on disk are assumed unusable.
	AuthStaleCredentials
	// AuthLost: a disconnect phrase with a failing exit code.
	AuthLost
)

func (s AuthStatus) String() string {
	switch s {
	case AuthOK:
		return "ok"
	case AuthNotLoggedIn:
		return "not_logged_in"
	case AuthDisconnected:
		return "disconnected"
	case AuthStaleCredentials:
		return "stale_credentials"
	case AuthLost:
		return "lost"
	default:
		return "failed"
	}
}

// IsStale reports whether the credentials should be wiped.
func (s AuthStatus) IsStale() bool {
	return s == AuthDisconnected || s == AuthStaleCredentials
}

var (
	notLoggedInPhrases  = []string{"not logged in", "not authenticated", "no session", "please login", "please log in"}
	disconnectedPhrases = []string{"device disconnected", "device was disconnected", "connection closed"}
	authLossPhrases     = []string{
		"not logged in",
		"not authenticated",
		"logged out",
		"device disconnected",
		"device was disconnected",
		"connection closed",
		"session expired",
		"unauthorized",
	}
	loggedInPhrases = []string{"logged in", "successfully paired", "pairing successful", "login successful"}

	jidPattern    = regexp.MustCompile(`\d+(?::\d+)?@s\.whatsapp\.net`)
	identityKeys  = []string{"jid", "id", "phone", "user", "wid"}
	rawCodeFields = []string{"qr", "code"}
)

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ClassifyAuth interprets the output of `whoami`.
func ClassifyAuth(stdout, stderr string, exitCode int) AuthStatus {
	combined := strings.ToLower(stdout + "\n" + stderr)

	if containsAny(combined, notLoggedInPhrases) {
		return AuthNotLoggedIn
	}
	if containsAny(combined, disconnectedPhrases) {
		if exitCode == 0 {
			return AuthDisconnected
		}
		return AuthLost
	}
	if exitCode != 0 {
		return AuthFailed
	}
	if Identity(stdout) != "" {
		return AuthOK
	}
	return AuthStaleCredentials
}

// Identity extracts the logged-in account from whoami output, either from a
// JSON object or from a bare JID in text.
func Identity(stdout string) string {
	trimmed := strings.TrimSpace(stdout)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			for _, key := range identityKeys {
				if v, ok := obj[key].(string); ok && v != "" {
					return v
				}
			}
		}
	}
	return jidPattern.FindString(stdout)
}

// ContainsLoggedIn reports whether login output announces success.
func ContainsLoggedIn(out string) bool {
	lower := strings.ToLower(out)
	lower = strings.ReplaceAll(lower, "not logged in", "")
	return containsAny(lower, loggedInPhrases)
}

// DetectAuthLoss reports whether command output says the session is gone.
func DetectAuthLoss(stdout, stderr string) bool {
	return containsAny(strings.ToLower(stdout+"\n"+stderr), authLossPhrases)
}

const (
	minBlockLineRunes = 10
	minBlockLines     = 5
)

func isBlockRune(r rune) bool {
	switch r {
	case '█', '▀', '▄', '▌', '▐', '▓', '▒', '░', ' ':
		return true
	}
	return false
}

// blockLine reports whether line is part of a rendered code: only block
// characters and spaces, with enough of the former.
func blockLine(line string) bool {
	line = strings.TrimRight(line, " \r")
	blocks := 0
	for _, r := range line {
		if !isBlockRune(r) {
			return false
		}
		if r != ' ' {
			blocks++
		}
	}
	return blocks >= minBlockLineRunes
}

// FindPairingCode locates a pairing code in partial login output.
//
// A code is either a run of contiguous block-character lines or a JSON
// line carrying the raw code, which is rendered the same way. terminated
// is true when a complete line follows the block, meaning the bridge has
// finished drawing it. Only the first code in out is considered.
func FindPairingCode(out string) (code string, terminated bool, ok bool) {
	lines := strings.Split(out, "\n")
	// The last element has no newline yet and may still be growing.
	complete := lines[:len(lines)-1]

	start := -1
	for i, line := range complete {
		if blockLine(line) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if i-start >= minBlockLines {
				return strings.Join(trimLines(complete[start:i]), "\n"), true, true
			}
			start = -1
		}
	}
	if start >= 0 && len(complete)-start >= minBlockLines {
		// The partial trailing line counts as a terminator if it is not
		// itself a continuation of the block.
		tail := lines[len(lines)-1]
		term := tail != "" && !blockLine(tail)
		return strings.Join(trimLines(complete[start:]), "\n"), term, true
	}

	for _, line := range complete {
		if raw := rawCode(line); raw != "" {
			return RenderCode(raw), true, true
		}
	}
	return "", false, false
}

// RawPairingCode returns the unrendered code if the bridge printed one as
// JSON.
func RawPairingCode(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if raw := rawCode(line); raw != "" {
			return raw
		}
	}
	return ""
}

func rawCode(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return ""
	}
	for _, f := range rawCodeFields {
		if v, ok := obj[f].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// RenderCode draws a raw pairing payload as half-block characters.
func RenderCode(raw string) string {
	var buf bytes.Buffer
	qrterminal.GenerateHalfBlock(raw, qrterminal.L, &buf)
	return strings.TrimRight(buf.String(), "\n")
}

func trimLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, " \r")
	}
	return out
}

// Chat is one entry from list-groups.
type Chat struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

type rawChat struct {
	ID      string `json:"id"`
	JID     string `json:"jid"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Type    string `json:"type"`
}

func (r rawChat) chat() Chat {
	c := Chat{ID: r.ID, Name: r.Name, Type: r.Type}
	if c.ID == "" {
		c.ID = r.JID
	}
	if c.Name == "" {
		c.Name = r.Subject
	}
	if c.Type == "" {
		c.Type = string(whatsapp.Classify(c.ID))
	}
	return c
}

var textChatLine = regexp.MustCompile(`(\S+@(?:g\.us|s\.whatsapp\.net|broadcast|newsletter|lid))`)

// ParseChats reads list-groups output: a JSON array, one JSON object per
// line, or plain text lines containing a JID followed or preceded by a name.
func ParseChats(stdout string) []Chat {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return []Chat{}
	}

	if strings.HasPrefix(trimmed, "[") {
		var raws []rawChat
		if err := json.Unmarshal([]byte(trimmed), &raws); err == nil {
			chats := make([]Chat, 0, len(raws))
			for _, r := range raws {
				if c := r.chat(); c.ID != "" {
					chats = append(chats, c)
				}
			}
			return chats
		}
	}

	chats := make([]Chat, 0)
	sc := bufio.NewScanner(strings.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") {
			var r rawChat
			if err := json.Unmarshal([]byte(line), &r); err == nil {
				if c := r.chat(); c.ID != "" {
					chats = append(chats, c)
				}
				continue
			}
		}
		id := textChatLine.FindString(line)
		if id == "" {
			continue
		}
		name := strings.TrimSpace(strings.Replace(line, id, "", 1))
		name = strings.Trim(name, " \t-|:")
		chats = append(chats, Chat{ID: id, Name: name, Type: string(whatsapp.Classify(id))})
	}
	return chats
}
