package bridge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Captured from a login run, trimmed to the first rows of the code.
const sampleCode = `█▀▀▀▀▀█ ▄▀▄▄▀ ▀▄█ █▀▀▀▀▀█
█ ███ █ ▀█▄▀▄▄▀▀█▄ █ ███ █
█ ▀▀▀ █ ▄▀ █▀▄▄▀ ▄ █ ▀▀▀ █
▀▀▀▀▀▀▀ █▄▀ ▀ █▄█ ▀▀▀▀▀▀▀
▀█▄▀▄█▀▄ ▀█▄█▀ ▄▀█▀ ▀▄▀█▄
▄▄ ▀▄▄▀▀▄█▀▄ ▄▀▀▄▀▄ █▀▀▄▄
▀▀▀▀▀▀▀ ▀ █▄▄▀█ ▀▀▀ ▀ ▀▀▀`

func TestFindPairingCode(t *testing.T) {
	tests := []struct {
		name       string
		out        string
		wantOK     bool
		wantTerm   bool
		wantPrefix string
	}{
		{
			name:       "terminated by status line",
			out:        "Starting login...\nScan this code:\n" + sampleCode + "\nWaiting for scan...\n",
			wantOK:     true,
			wantTerm:   true,
			wantPrefix: "█▀▀▀▀▀█",
		},
		{
			name:       "terminated by blank line",
			out:        sampleCode + "\n\n",
			wantOK:     true,
			wantTerm:   true,
			wantPrefix: "█▀▀▀▀▀█",
		},
		{
			name:     "still drawing",
			out:      "Scan this code:\n" + sampleCode + "\n",
			wantOK:   true,
			wantTerm: false,
		},
		{
			name:     "partial trailing line of text terminates",
			out:      sampleCode + "\nWaiting",
			wantOK:   true,
			wantTerm: true,
		},
		{
			name:   "too few rows",
			out:    strings.Join(strings.Split(sampleCode, "\n")[:3], "\n") + "\ndone\n",
			wantOK: false,
		},
		{
			name:   "no code",
			out:    "Starting login...\nConnecting\n",
			wantOK: false,
		},
		{
			name:   "empty",
			out:    "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, term, ok := FindPairingCode(tt.out)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantTerm, term)
			assert.Len(t, strings.Split(code, "\n"), 7)
			if tt.wantPrefix != "" {
				assert.True(t, strings.HasPrefix(code, tt.wantPrefix))
			}
			assert.NotContains(t, code, "Waiting")
		})
	}
}

func TestFindPairingCode_JSONLine(t *testing.T) {
	out := "{\"event\":\"qr\",\"qr\":\"2@abcDEF123,xyz,ghi,jkl\"}\n"

	code, term, ok := FindPairingCode(out)
	require.True(t, ok)
	assert.True(t, term)
	assert.NotEmpty(t, code)
	assert.Equal(t, "2@abcDEF123,xyz,ghi,jkl", RawPairingCode(out))
}

func TestClassifyAuth(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		stderr string
		exit   int
		want   AuthStatus
	}{
		{"json identity", `{"jid":"15550100@s.whatsapp.net","name":"Me"}`, "", 0, AuthOK},
		{"text identity", "Logged in as 15550100:12@s.whatsapp.net\n", "", 0, AuthOK},
		{"phone field", `{"phone":"+15550100"}`, "", 0, AuthOK},
		{"not logged in exit 1", "", "Error: not logged in", 1, AuthNotLoggedIn},
		{"not logged in exit 0", "You are not logged in\n", "", 0, AuthNotLoggedIn},
		{"disconnected exit 0", "device was disconnected\n", "", 0, AuthDisconnected},
		{"disconnected exit 1", "", "connection closed", 1, AuthLost},
		{"exit 0 without identity", "ok\n", "", 0, AuthStaleCredentials},
		{"empty exit 0", "", "", 0, AuthStaleCredentials},
		{"generic failure", "", "panic: boom", 2, AuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyAuth(tt.stdout, tt.stderr, tt.exit))
		})
	}
}

func TestAuthStatus_IsStale(t *testing.T) {
	assert.True(t, AuthDisconnected.IsStale())
	assert.True(t, AuthStaleCredentials.IsStale())
	assert.False(t, AuthLost.IsStale())
	assert.False(t, AuthOK.IsStale())
	assert.False(t, AuthNotLoggedIn.IsStale())
	assert.Equal(t, "stale_credentials", AuthStaleCredentials.String())
}

func TestContainsLoggedIn(t *testing.T) {
	assert.True(t, ContainsLoggedIn("Scan...\nLogged in!\n"))
	assert.True(t, ContainsLoggedIn("Successfully paired with device"))
	assert.False(t, ContainsLoggedIn("You are not logged in"))
	assert.False(t, ContainsLoggedIn("Waiting for scan"))
}

func TestDetectAuthLoss(t *testing.T) {
	assert.True(t, DetectAuthLoss("", "error: not logged in"))
	assert.True(t, DetectAuthLoss("Session expired, log in again", ""))
	assert.True(t, DetectAuthLoss("", "Device was disconnected"))
	assert.False(t, DetectAuthLoss("Message sent", ""))
}

func TestParseChats(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		out := `[{"jid":"123-456@g.us","subject":"Family"},{"id":"15550100@s.whatsapp.net","name":"Alice","type":"contact"}]`
		chats := ParseChats(out)
		require.Len(t, chats, 2)
		assert.Equal(t, Chat{ID: "123-456@g.us", Name: "Family", Type: "group"}, chats[0])
		assert.Equal(t, Chat{ID: "15550100@s.whatsapp.net", Name: "Alice", Type: "contact"}, chats[1])
	})

	t.Run("json lines", func(t *testing.T) {
		out := "{\"jid\":\"111-222@g.us\",\"name\":\"Work\"}\n{\"jid\":\"333-444@g.us\",\"name\":\"Book club\"}\n"
		chats := ParseChats(out)
		require.Len(t, chats, 2)
		assert.Equal(t, "Book club", chats[1].Name)
		assert.Equal(t, "group", chats[1].Type)
	})

	t.Run("text", func(t *testing.T) {
		out := "Groups:\n111-222@g.us  Work\n333-444@g.us - Book club\n\n"
		chats := ParseChats(out)
		require.Len(t, chats, 2)
		assert.Equal(t, Chat{ID: "111-222@g.us", Name: "Work", Type: "group"}, chats[0])
		assert.Equal(t, "Book club", chats[1].Name)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, ParseChats("  \n"))
	})
}
