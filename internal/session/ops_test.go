package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge/bridgetest"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/queue"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
)

func TestSendMessage_Success(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", whoamiOK, "", 0)
	var args []string
	fake.On("send", func(a []string) (*bridgetest.Process, error) {
		args = a
		return bridgetest.Exited("Message sent\n", "", 0), nil
	})
	cfg := testConfig(t)
	m := newTestManager(t, cfg, fake)

	require.NoError(t, m.SendMessage(context.Background(), "+1 555-0100", "hello"))

	assert.Equal(t, []string{"--cache", cfg.CacheDir, "send", "15550100@s.whatsapp.net", "hello"}, args)
	assert.Equal(t, int64(1), m.Status().MessagesSent)
	// The auth check runs inside the queued operation, before the send.
	assert.Equal(t, []string{"whoami", "send"}, fake.Launches())
	assert.Equal(t, state.StateAuthenticated, m.State())
}

func TestSendMessage_DisconnectedMidSession(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", whoamiOK, "", 0)
	fake.Respond("send", "", "error: device was disconnected\n", 1)
	m := newTestManager(t, testConfig(t), fake)
	ctx := context.Background()

	require.True(t, m.IsAuthenticated(ctx))
	require.Equal(t, state.StateAuthenticated, m.State())

	err := m.SendMessage(ctx, "15550100@s.whatsapp.net", "hello")
	require.ErrorIs(t, err, ErrAuthenticationLost)
	assert.Equal(t, "Authentication lost - please re-authenticate", err.Error())
	assert.True(t, m.Unstable())
	assert.Equal(t, state.StateIdle, m.State())

	launches := len(fake.Launches())
	assert.False(t, m.IsAuthenticated(ctx))
	assert.Len(t, fake.Launches(), launches)
}

func TestSendMessage_SpawnFailureWhileAuthenticated(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", whoamiOK, "", 0)
	fake.On("send", func([]string) (*bridgetest.Process, error) { return nil, os.ErrNotExist })
	procs := loginWithCode(fake)
	m := newTestManager(t, testConfig(t), fake)
	ctx := context.Background()

	require.True(t, m.IsAuthenticated(ctx))

	err := m.SendMessage(ctx, "15550100@s.whatsapp.net", "hello")
	var spawnErr *bridge.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.True(t, m.Unstable())
	assert.Equal(t, state.StateError, m.State())

	code, err := m.GetPairingCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, pairingBlock, code)
	assert.Equal(t, 1, fake.Count("login"))
	<-procs
}

func TestSendMessage_NotAuthenticatedRetriesOnce(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", "", whoamiNotLoggedIn, 1)
	m := newTestManager(t, testConfig(t), fake)

	err := m.SendMessage(context.Background(), "15550100", "hello")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, "Not authenticated - please login first", err.Error())
	assert.Equal(t, 2, fake.Count("whoami"))
	assert.Zero(t, fake.Count("send"))
}

func TestSendMessage_RetrySucceeds(t *testing.T) {
	fake := bridgetest.NewLauncher()
	var mu sync.Mutex
	calls := 0
	fake.On("whoami", func([]string) (*bridgetest.Process, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return bridgetest.Exited("", "timeout talking to server", 1), nil
		}
		return bridgetest.Exited(whoamiOK, "", 0), nil
	})
	fake.Respond("send", "ok", "", 0)
	m := newTestManager(t, testConfig(t), fake)

	require.NoError(t, m.SendMessage(context.Background(), "15550100", "hello"))
	assert.Equal(t, 2, fake.Count("whoami"))
}

func TestSendMessage_UnstableFailsFast(t *testing.T) {
	fake := bridgetest.NewLauncher()
	m := newTestManager(t, testConfig(t), fake)
	m.markUnstable("test")

	err := m.SendMessage(context.Background(), "15550100", "hello")
	assert.ErrorIs(t, err, ErrSessionUnstable)
	assert.Empty(t, fake.Launches())
}

func TestSendMessage_StaleDuringAssurance(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", "", "", 0)
	cfg := testConfig(t)
	writeCredentials(t, cfg.CacheDir)
	m := newTestManager(t, cfg, fake)

	err := m.SendMessage(context.Background(), "15550100", "hello")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	// Permanent: no retry once the session is flagged.
	assert.Equal(t, 1, fake.Count("whoami"))

	require.Eventually(t, func() bool {
		return m.Status().StaleCleanups == 1 && m.Status().OperationsRun >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assertEmptyDir(t, cfg.CacheDir)
	assert.True(t, m.Unstable())
}

func TestSendMessage_CommandFailure(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", whoamiOK, "", 0)
	fake.Respond("send", "", "invalid recipient", 2)
	m := newTestManager(t, testConfig(t), fake)

	err := m.SendMessage(context.Background(), "15550100", "hello")
	var cmdErr *bridge.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 2, cmdErr.ExitCode)
	assert.False(t, m.Unstable())
	assert.Equal(t, state.StateAuthenticated, m.State())
}

func TestSendMessage_InvalidInput(t *testing.T) {
	fake := bridgetest.NewLauncher()
	m := newTestManager(t, testConfig(t), fake)

	assert.ErrorIs(t, m.SendMessage(context.Background(), "", "hello"), ErrInvalidRecipient)
	assert.ErrorIs(t, m.SendMessage(context.Background(), "15550100", "  "), ErrEmptyMessage)
	assert.Empty(t, fake.Launches())
}

func TestSendMessage_Timeout(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", whoamiOK, "", 0)
	fake.On("send", func([]string) (*bridgetest.Process, error) {
		return bridgetest.Delayed(time.Minute, "", "", 0), nil
	})
	cfg := testConfig(t)
	cfg.CommandTimeout = 50 * time.Millisecond
	m := newTestManager(t, cfg, fake)

	err := m.SendMessage(context.Background(), "15550100", "hello")
	assert.True(t, errors.Is(err, bridge.ErrCommandTimeout) || errors.Is(err, queue.ErrTimeout))
	assert.False(t, m.Unstable())
}

func TestListChats_CachesAndFilters(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", whoamiOK, "", 0)
	fake.Respond("list-groups", `[
		{"jid":"111-222@g.us","name":"Family"},
		{"jid":"333-444@g.us","name":"Work"},
		{"jid":"555-666@g.us","name":"Book Club"}
	]`, "", 0)
	m := newTestManager(t, testConfig(t), fake)
	ctx := context.Background()

	all, err := m.ListChats(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	fam, err := m.ListChats(ctx, "FAM")
	require.NoError(t, err)
	require.Len(t, fam, 1)
	assert.Equal(t, bridge.Chat{ID: "111-222@g.us", Name: "Family", Type: "group"}, fam[0])

	byID, err := m.ListChats(ctx, "333-")
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "Work", byID[0].Name)

	none, err := m.ListChats(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Equal(t, 1, fake.Count("list-groups"))
	assert.Equal(t, 1, fake.Count("whoami"))
}

func TestListChats_AuthLost(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.Respond("whoami", whoamiOK, "", 0)
	fake.Respond("list-groups", "", "session expired", 1)
	m := newTestManager(t, testConfig(t), fake)

	_, err := m.ListChats(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuthenticationLost)
	assert.True(t, m.Unstable())
}

func TestOperations_Serialized(t *testing.T) {
	fake := bridgetest.NewLauncher()
	fake.On("whoami", func([]string) (*bridgetest.Process, error) {
		return bridgetest.Delayed(3*time.Millisecond, whoamiOK, "", 0), nil
	})
	fake.On("send", func([]string) (*bridgetest.Process, error) {
		return bridgetest.Delayed(3*time.Millisecond, "sent", "", 0), nil
	})
	fake.On("list-groups", func([]string) (*bridgetest.Process, error) {
		return bridgetest.Delayed(3*time.Millisecond, "[]", "", 0), nil
	})
	m := newTestManager(t, testConfig(t), fake)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.SendMessage(ctx, "15550100", "hi"))
		}()
		go func() {
			defer wg.Done()
			m.IsAuthenticated(ctx)
		}()
		go func() {
			defer wg.Done()
			_, err := m.ListChats(ctx, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fake.MaxConcurrent())
	assert.Equal(t, int64(6), m.Status().MessagesSent)
}

func TestFilterChats(t *testing.T) {
	chats := []bridge.Chat{
		{ID: "1@g.us", Name: "Alpha"},
		{ID: "2@g.us", Name: "beta"},
	}

	assert.Len(t, filterChats(chats, ""), 2)
	assert.Len(t, filterChats(chats, "  ALP "), 1)
	assert.Equal(t, "beta", filterChats(chats, "2@")[0].Name)

	// The cached slice is never handed out directly.
	out := filterChats(chats, "")
	out[0].Name = "changed"
	assert.Equal(t, "Alpha", chats[0].Name)
}
