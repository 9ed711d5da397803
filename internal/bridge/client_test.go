package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge/bridgetest"
)

func TestClient_PassesCacheDir(t *testing.T) {
	fake := bridgetest.NewLauncher()
	var got []string
	fake.On("whoami", func(args []string) (*bridgetest.Process, error) {
		got = args
		return bridgetest.Exited(`{"jid":"1@s.whatsapp.net"}`, "", 0), nil
	})

	c := bridge.NewClient(fake, "/tmp/creds", nil)
	check, err := c.WhoAmI(context.Background(), time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"--cache", "/tmp/creds", "whoami"}, got)
	assert.Equal(t, bridge.AuthOK, check.Status)
	assert.Equal(t, "1@s.whatsapp.net", check.Identity)
}

func TestClient_RunTimeoutKills(t *testing.T) {
	fake := bridgetest.NewLauncher()
	proc := bridgetest.NewProcess()
	fake.On("list-groups", func([]string) (*bridgetest.Process, error) {
		proc.WriteStdout("partial")
		return proc, nil
	})

	c := bridge.NewClient(fake, t.TempDir(), nil)
	res, err := c.Run(context.Background(), 20*time.Millisecond, "list-groups")

	assert.ErrorIs(t, err, bridge.ErrCommandTimeout)
	assert.True(t, proc.Killed())
	require.NotNil(t, res)
	assert.Equal(t, "partial", res.Stdout)
}

func TestClient_RunContextCancelKills(t *testing.T) {
	fake := bridgetest.NewLauncher()
	proc := bridgetest.NewProcess()
	fake.On("whoami", func([]string) (*bridgetest.Process, error) { return proc, nil })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	c := bridge.NewClient(fake, t.TempDir(), nil)
	_, err := c.Run(ctx, time.Minute, "whoami")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, proc.Killed())
}

func TestClient_SpawnError(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.FailSpawn(errors.New("executable not found"))

	c := bridge.NewClient(fake, t.TempDir(), nil)
	_, err := c.WhoAmI(context.Background(), time.Second)

	var spawnErr *bridge.SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}

func TestClient_Send(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		stderr     string
		exit       int
		wantErr    error
		wantCmdErr bool
	}{
		{name: "sent", stdout: "Message sent\n"},
		{name: "sent text echoed", stdout: "Sent: you are unauthorized\n"},
		{name: "auth lost exit 0", stderr: "error: not logged in\n", wantErr: bridge.ErrAuthLost},
		{name: "auth lost exit 1", stderr: "session expired", exit: 1, wantErr: bridge.ErrAuthLost},
		{name: "auth lost stdout exit 1", stdout: "device was disconnected\n", exit: 1, wantErr: bridge.ErrAuthLost},
		{name: "other failure", stderr: "invalid recipient", exit: 2, wantCmdErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := bridgetest.NewLauncher()
			var args []string
			fake.On("send", func(a []string) (*bridgetest.Process, error) {
				args = a
				return bridgetest.Exited(tt.stdout, tt.stderr, tt.exit), nil
			})

			c := bridge.NewClient(fake, "/creds", nil)
			_, err := c.Send(context.Background(), time.Second, "15550100@s.whatsapp.net", "hi there")

			assert.Equal(t, []string{"--cache", "/creds", "send", "15550100@s.whatsapp.net", "hi there"}, args)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantCmdErr:
				var cmdErr *bridge.CommandError
				require.ErrorAs(t, err, &cmdErr)
				assert.Equal(t, tt.exit, cmdErr.ExitCode)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_ListGroups(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("list-groups", `[{"jid":"1-2@g.us","name":"Team"}]`, "", 0)

	c := bridge.NewClient(fake, t.TempDir(), nil)
	chats, err := c.ListGroups(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []bridge.Chat{{ID: "1-2@g.us", Name: "Team", Type: "group"}}, chats)
}

func TestClient_Logout(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("logout", "", "already logged out", 1)

	c := bridge.NewClient(fake, t.TempDir(), nil)
	_, err := c.Logout(context.Background(), time.Second)

	var cmdErr *bridge.CommandError
	assert.ErrorAs(t, err, &cmdErr)
}
