package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/queue"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/whatsapp"
)

// opTimeout bounds a queued send or list: two auth checks, the retry
// delay, and the command itself.
func (m *Manager) opTimeout() time.Duration {
	return m.cfg.CommandTimeout + 2*m.cfg.AuthCheckTimeout + m.cfg.AuthRetryDelay
}

// SendMessage sends text to a phone number or JID.
func (m *Manager) SendMessage(ctx context.Context, recipient, text string) error {
	jid, err := whatsapp.NormalizeRecipient(recipient)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	_, err = m.queue.Enqueue(ctx, "send", m.opTimeout(), func(ctx context.Context) (any, error) {
		if err := m.ensureAuthenticated(ctx); err != nil {
			return nil, err
		}
		if _, err := m.client.Send(ctx, m.cfg.CommandTimeout, jid, text); err != nil {
			return nil, m.commandError(ctx, err)
		}
		m.messagesSent.Add(1)
		m.log.Info("message sent", "recipient", jid)
		return nil, nil
	})
	return err
}

// ListChats returns the bridge's chats whose name or ID contains filter,
// case-insensitively. A warm cache answers without a process call.
func (m *Manager) ListChats(ctx context.Context, filter string) ([]bridge.Chat, error) {
	if chats, ok := m.chatCache.Get(); ok {
		return filterChats(chats, filter), nil
	}

	chats, err := queue.Do(ctx, m.queue, "list-chats", m.opTimeout(), func(ctx context.Context) ([]bridge.Chat, error) {
		// Another caller may have filled the cache while this one waited.
		if chats, ok := m.chatCache.Get(); ok {
			return chats, nil
		}
		if err := m.ensureAuthenticated(ctx); err != nil {
			return nil, err
		}
		chats, err := m.client.ListGroups(ctx, m.cfg.CommandTimeout)
		if err != nil {
			return nil, m.commandError(ctx, err)
		}
		m.chatCache.Set(chats)
		return chats, nil
	})
	if err != nil {
		return nil, err
	}
	return filterChats(chats, filter), nil
}

// commandError maps a failed send or list to the caller-facing error and
// applies its side effects.
func (m *Manager) commandError(ctx context.Context, err error) error {
	var spawnErr *bridge.SpawnError
	switch {
	case errors.Is(err, bridge.ErrAuthLost):
		m.markUnstable("authentication lost during command")
		m.sessionDropped(ctx, "authentication lost")
		return ErrAuthenticationLost
	case errors.As(err, &spawnErr):
		m.enterError(ctx, "spawn failure")
		return err
	default:
		return err
	}
}

func filterChats(chats []bridge.Chat, filter string) []bridge.Chat {
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make([]bridge.Chat, 0, len(chats))
	for _, c := range chats {
		if filter == "" ||
			strings.Contains(strings.ToLower(c.Name), filter) ||
			strings.Contains(strings.ToLower(c.ID), filter) {
			out = append(out, c)
		}
	}
	return out
}

// Logout unlinks the device and wipes local credentials. It always leaves
// the session idle and stable; a failing bridge logout is only logged.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.loginMu.Acquire(ctx); err != nil {
		return err
	}
	defer m.loginMu.Release()

	_, err := m.queue.Enqueue(ctx, "logout", m.cfg.CommandTimeout+queueSlack, func(ctx context.Context) (any, error) {
		return nil, m.runLogout(ctx)
	})
	return err
}

func (m *Manager) runLogout(ctx context.Context) error {
	m.machine.TryFire(ctx, state.TriggerShutdown)
	m.killLogin("logout")

	if _, err := m.client.Logout(ctx, m.cfg.CommandTimeout); err != nil {
		m.log.Warn("bridge logout failed, continuing cleanup", "error", err)
	}

	dirErr := resetCredentialDir(m.client.CacheDir())
	m.caches.InvalidateAll()
	m.mu.Lock()
	m.identity = ""
	m.mu.Unlock()

	if !m.machine.TryFire(ctx, state.TriggerShutdownComplete) {
		m.machine.Reset(ctx)
	}
	m.unstable.Store(false)

	m.log.Info("logged out", "dir", m.client.CacheDir())
	m.emit(EventLoggedOut, nil)

	if dirErr != nil {
		return fmt.Errorf("failed to reset credential dir: %w", dirErr)
	}
	return nil
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	State             state.State `json:"state" yaml:"state"`
	Unstable          bool        `json:"unstable" yaml:"unstable"`
	Authenticated     bool        `json:"authenticated" yaml:"authenticated"`
	Identity          string      `json:"identity,omitempty" yaml:"identity,omitempty"`
	LoginInProgress   bool        `json:"login_in_progress" yaml:"login_in_progress"`
	QueueDepth        int         `json:"queue_depth" yaml:"queue_depth"`
	LoginWaiters      int         `json:"login_waiters" yaml:"login_waiters"`
	OperationsRun     int64       `json:"operations_run" yaml:"operations_run"`
	OperationTimeouts int64       `json:"operation_timeouts" yaml:"operation_timeouts"`
	StaleCleanups     int64       `json:"stale_cleanups" yaml:"stale_cleanups"`
	MessagesSent      int64       `json:"messages_sent" yaml:"messages_sent"`
	LastAuthCheck     time.Time   `json:"last_auth_check,omitempty" yaml:"last_auth_check,omitempty"`
	UptimeSeconds     int64       `json:"uptime_seconds" yaml:"uptime_seconds"`
}

// Status returns a snapshot without touching the bridge. Authenticated
// reflects the cached answer only.
func (m *Manager) Status() Status {
	cached, hit := m.authCache.Get()
	return Status{
		State:             m.State(),
		Unstable:          m.unstable.Load(),
		Authenticated:     hit && cached && !m.unstable.Load(),
		Identity:          m.Identity(),
		LoginInProgress:   m.LoginInProgress(),
		QueueDepth:        m.queue.Len(),
		LoginWaiters:      m.loginMu.Waiting(),
		OperationsRun:     m.queue.Processed(),
		OperationTimeouts: m.queue.TimedOut(),
		StaleCleanups:     m.staleCleanups.Load(),
		MessagesSent:      m.messagesSent.Load(),
		LastAuthCheck:     m.authCache.LastSet(),
		UptimeSeconds:     int64(time.Since(m.startTime).Seconds()),
	}
}
