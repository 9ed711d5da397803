package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/queue"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
)

// IsAuthenticated reports whether the bridge holds a usable session. It
// never fails: errors read as false. While the session is unstable it
// answers false without touching caches or the bridge.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	if m.unstable.Load() {
		return false
	}

	if err := m.loginMu.Acquire(ctx); err != nil {
		return false
	}
	defer m.loginMu.Release()

	// The previous holder may have flagged the session.
	if m.unstable.Load() {
		return false
	}
	if ok, hit := m.authCache.Get(); hit {
		return ok
	}
	return m.checkAuth(ctx)
}

type authOutcome struct {
	ok      bool
	cleanup <-chan queue.Result
}

// checkAuth runs a queued auth check whose outcome is applied during its
// own queue turn. Stale credentials are wiped by a queued cleanup that
// this call waits for. Callers hold the login mutex.
func (m *Manager) checkAuth(ctx context.Context) bool {
	res, err := queue.Do(ctx, m.queue, "auth-check", m.cfg.AuthCheckTimeout+queueSlack,
		func(ctx context.Context) (authOutcome, error) {
			// An operation ahead of this one may have flagged the session.
			if m.unstable.Load() {
				return authOutcome{}, nil
			}
			check, err := m.client.WhoAmI(ctx, m.cfg.AuthCheckTimeout)
			ok, cleanup := m.applyAuthCheck(ctx, check, err)
			return authOutcome{ok: ok, cleanup: cleanup}, nil
		})
	if err != nil {
		m.log.Warn("auth check did not complete", "error", err)
		return false
	}

	ok, cleanup := res.ok, res.cleanup
	if cleanup != nil {
		select {
		case res := <-cleanup:
			if res.Err != nil {
				m.log.Error("stale session cleanup failed", "error", res.Err)
			}
		case <-ctx.Done():
		}
	}
	return ok
}

// applyAuthCheck updates state, caches and flags from one auth check. When
// the credentials look stale it submits a cleanup and returns its result
// channel; callers already running inside the queue must not wait on it.
func (m *Manager) applyAuthCheck(ctx context.Context, check *bridge.AuthCheck, err error) (bool, <-chan queue.Result) {
	if err != nil {
		var spawnErr *bridge.SpawnError
		switch {
		case errors.As(err, &spawnErr):
			m.log.Error("bridge could not be started", "error", err)
			m.enterError(ctx, "spawn failure")
		case errors.Is(err, queue.ErrTimeout), errors.Is(err, bridge.ErrCommandTimeout):
			m.log.Warn("auth check timed out", "error", err)
		default:
			m.log.Warn("auth check failed", "error", err)
		}
		return false, nil
	}

	switch check.Status {
	case bridge.AuthOK:
		m.mu.Lock()
		m.identity = check.Identity
		m.mu.Unlock()
		m.authCache.Set(true)
		if m.machine.TryFire(ctx, state.TriggerResync) {
			m.log.Info("session resynchronized from existing credentials", "identity", check.Identity)
			m.emit(EventAuthenticated, AuthenticatedPayload{Identity: check.Identity})
		}
		return true, nil

	case bridge.AuthNotLoggedIn:
		m.authCache.Set(false)
		m.sessionDropped(ctx, "not logged in")
		return false, nil

	case bridge.AuthLost:
		m.markUnstable("authentication lost")
		m.sessionDropped(ctx, "authentication lost")
		return false, nil

	case bridge.AuthDisconnected, bridge.AuthStaleCredentials:
		if check.Status == bridge.AuthStaleCredentials {
			// Exit 0 with no identity is also what a transient parsing gap
			// looks like; this wipe can be a false positive.
			m.log.Warn("auth check exited 0 without identity, treating credentials as stale",
				"stdout_bytes", len(check.Result.Stdout), "stderr_bytes", len(check.Result.Stderr))
		}
		reason := check.Status.String()
		m.markUnstable(reason)
		m.sessionDropped(ctx, reason)
		return false, m.scheduleCleanup(reason)

	default:
		m.authCache.Set(false)
		m.log.Warn("auth check failed", "exit_code", check.Result.ExitCode)
		m.sessionDropped(ctx, "auth check failed")
		return false, nil
	}
}

// scheduleCleanup queues a credential wipe.
func (m *Manager) scheduleCleanup(reason string) <-chan queue.Result {
	m.staleCleanups.Add(1)
	return m.queue.Submit("stale-cleanup", m.cfg.CommandTimeout, func(ctx context.Context) (any, error) {
		return nil, m.cleanupStale(ctx, reason)
	})
}

// cleanupStale runs on the queue: it kills any login, wipes the credential
// directory, and leaves the session idle and unstable.
func (m *Manager) cleanupStale(ctx context.Context, reason string) error {
	m.killLogin("stale cleanup")

	err := resetCredentialDir(m.client.CacheDir())
	m.markUnstable(reason)
	m.machine.Reset(ctx)

	if err != nil {
		return fmt.Errorf("failed to reset credential dir: %w", err)
	}
	m.log.Warn("stale credentials wiped", "reason", reason, "dir", m.client.CacheDir())
	m.emit(EventSessionStale, ReasonPayload{Reason: reason})
	return nil
}

// ensureAuthenticated runs inside queued send and list operations. It
// checks the bridge directly, retrying once.
func (m *Manager) ensureAuthenticated(ctx context.Context) error {
	if m.unstable.Load() {
		return ErrSessionUnstable
	}

	attempt := func() error {
		check, err := m.client.WhoAmI(ctx, m.cfg.AuthCheckTimeout)
		ok, cleanup := m.applyAuthCheck(ctx, check, err)
		if ok {
			return nil
		}
		if cleanup != nil {
			// Runs as the next queue turn, after this operation.
			go m.logCleanup(cleanup)
		}
		if m.unstable.Load() {
			return backoff.Permanent(ErrNotAuthenticated)
		}
		return ErrNotAuthenticated
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.AuthRetryDelay), 1), ctx)
	if err := backoff.Retry(attempt, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrNotAuthenticated
	}
	return nil
}

func (m *Manager) logCleanup(ch <-chan queue.Result) {
	res := <-ch
	if res.Err != nil {
		m.log.Error("stale session cleanup failed", "error", res.Err)
	}
}

// resetCredentialDir removes dir and recreates it empty with owner-only
// permissions.
func resetCredentialDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.Chmod(dir, 0o700)
}

// LastAuthCheck returns when the auth cache was last written.
func (m *Manager) LastAuthCheck() time.Time {
	return m.authCache.LastSet()
}
