package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/queue"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
)

// pairingCode is a delivered code. Raw is set when the bridge printed the
// code as data rather than drawing it.
type pairingCode struct {
	Code string
	Raw  string
}

// loginSession is the single tracked login process.
type loginSession struct {
	proc    bridge.Process
	started time.Time
	// abandoned is set when someone other than the watcher kills the
	// process; the killer owns the resulting state change.
	abandoned atomic.Bool
}

func (ls *loginSession) abandon() {
	ls.abandoned.Store(true)
	_ = ls.proc.Kill()
}

// GetPairingCode starts a login and returns the pairing code to scan. A
// code fetched in the last QR TTL is returned again without a new login.
func (m *Manager) GetPairingCode(ctx context.Context) (string, error) {
	if err := m.loginMu.Acquire(ctx); err != nil {
		return "", err
	}
	defer m.loginMu.Release()

	if pc, ok := m.qrCache.Get(); ok {
		return pc.Code, nil
	}

	// An unstable session's credentials are untrusted; go straight to login.
	if !m.unstable.Load() {
		authed, hit := m.authCache.Get()
		if !hit {
			authed = m.checkAuth(ctx)
		}
		if authed {
			return "", ErrAlreadyAuthenticated
		}
	}

	return queue.Do(ctx, m.queue, "login", m.cfg.PairingTimeout+m.cfg.AuthCheckTimeout+queueSlack, m.runLogin)
}

// PairingCodeRaw returns the unrendered form of the cached pairing code,
// or "" when there is none or the bridge only drew it.
func (m *Manager) PairingCodeRaw() string {
	pc, _ := m.qrCache.Get()
	return pc.Raw
}

// runLogin spawns the login process and polls it for a pairing code. On
// success the process keeps running under a watcher.
func (m *Manager) runLogin(ctx context.Context) (string, error) {
	m.killLogin("new login attempt")
	m.qrCache.Invalidate()
	m.machine.Reset(ctx)

	if err := m.machine.Fire(ctx, state.TriggerLogin); err != nil {
		return "", fmt.Errorf("failed to start login: %w", err)
	}

	proc, err := m.client.StartLogin(ctx)
	if err != nil {
		m.enterError(ctx, "login spawn failure")
		return "", fmt.Errorf("failed to start login: %w", err)
	}

	ls := &loginSession{proc: proc, started: time.Now()}
	m.mu.Lock()
	m.login = ls
	m.mu.Unlock()
	m.log.Info("login started", "pid", proc.PID())

	poll := time.NewTicker(m.cfg.PairingPollInterval)
	defer poll.Stop()
	deadline := time.NewTimer(m.cfg.PairingTimeout)
	defer deadline.Stop()

	var last string
	for {
		select {
		case <-poll.C:
			out := proc.Output().Stdout()
			code, terminated, ok := bridge.FindPairingCode(out)
			if !ok {
				continue
			}
			// An unterminated block is trusted once it stops changing.
			if terminated || code == last {
				return m.deliverCode(ctx, ls, code, bridge.RawPairingCode(out))
			}
			last = code

		case <-proc.Done():
			return m.loginExitedEarly(ctx, ls)

		case <-deadline.C:
			return m.pairingTimedOut(ctx, ls)

		case <-ctx.Done():
			m.killLogin("queue closed")
			return "", ctx.Err()
		}
	}
}

func (m *Manager) deliverCode(ctx context.Context, ls *loginSession, code, raw string) (string, error) {
	m.qrCache.Set(pairingCode{Code: code, Raw: raw})
	if err := m.machine.Fire(ctx, state.TriggerQRDetected); err != nil {
		m.log.Error("state transition failed", "trigger", state.TriggerQRDetected, "error", err)
	}
	if err := m.machine.Fire(ctx, state.TriggerCodeDelivered); err != nil {
		m.log.Error("state transition failed", "trigger", state.TriggerCodeDelivered, "error", err)
	}

	m.log.Info("pairing code detected", "lines", strings.Count(code, "\n")+1)
	m.emit(EventPairingCode, PairingCodePayload{Code: code, Raw: raw})

	m.wg.Add(1)
	go m.watchLogin(ls)
	return code, nil
}

// pairingTimedOut handles the pairing ceiling: whatever the bridge printed
// is returned as a best-effort result; silence is a hard failure.
func (m *Manager) pairingTimedOut(ctx context.Context, ls *loginSession) (string, error) {
	out := ls.proc.Output()
	text := out.Stdout()
	if strings.TrimSpace(text) == "" {
		text = out.Combined()
	}
	m.killLogin("pairing timeout")

	if strings.TrimSpace(text) != "" {
		m.log.Warn("no pairing code detected before timeout, returning raw output", "bytes", len(text))
		m.machine.Reset(ctx)
		return text, nil
	}

	m.enterError(ctx, "login produced no output")
	return "", ErrNoPairingOutput
}

// loginExitedEarly handles a login process that ended before printing a
// code, which is what an already paired bridge does.
func (m *Manager) loginExitedEarly(ctx context.Context, ls *loginSession) (string, error) {
	m.clearLogin(ls)

	out := ls.proc.Output()
	if bridge.ContainsLoggedIn(out.Stdout()) && m.machine.TryFire(ctx, state.TriggerLoginExited) {
		if m.validate(ctx) {
			return "", ErrAlreadyAuthenticated
		}
		return "", ErrNotAuthenticated
	}

	if strings.TrimSpace(out.Combined()) == "" {
		m.enterError(ctx, "login exited without output")
		return "", ErrNoPairingOutput
	}

	m.machine.Reset(ctx)
	return "", &bridge.CommandError{Command: "login", ExitCode: ls.proc.ExitCode(), Stderr: out.Combined()}
}

// watchLogin follows a login after its code was delivered: it waits for
// the logged-in line, lets the bridge sync, asks it to exit, and queues
// validation once it does.
func (m *Manager) watchLogin(ls *loginSession) {
	defer m.wg.Done()

	ctx := m.ctx
	poll := time.NewTicker(m.cfg.PairingPollInterval)
	defer poll.Stop()
	abandon := time.NewTimer(m.cfg.LoginSessionTimeout - time.Since(ls.started))
	defer abandon.Stop()

	var settle, grace <-chan time.Time
	loggedIn := false

	for {
		select {
		case <-poll.C:
			if loggedIn || !bridge.ContainsLoggedIn(ls.proc.Output().Stdout()) {
				continue
			}
			loggedIn = true
			m.machine.TryFire(ctx, state.TriggerLoggedIn)
			m.log.Info("bridge reports logged in, waiting for sync", "settle", m.cfg.SyncSettleDelay)
			m.emit(EventLoggedIn, nil)
			settle = time.After(m.cfg.SyncSettleDelay)

		case <-settle:
			settle = nil
			m.machine.TryFire(ctx, state.TriggerSyncSettled)
			if err := ls.proc.WriteInput("\n"); err != nil {
				m.log.Warn("failed to signal bridge to exit", "error", err)
			}
			grace = time.After(m.cfg.ExitGracePeriod)

		case <-grace:
			grace = nil
			m.log.Warn("bridge did not exit after sync, killing it", "pid", ls.proc.PID())
			_ = ls.proc.Kill()

		case <-abandon.C:
			m.log.Warn("login session abandoned, killing bridge", "pid", ls.proc.PID(), "after", m.cfg.LoginSessionTimeout)
			if m.clearLogin(ls) {
				ls.abandon()
				m.qrCache.Invalidate()
				m.machine.Reset(ctx)
			}
			return

		case <-ls.proc.Done():
			if ls.abandoned.Load() {
				return
			}
			m.clearLogin(ls)
			m.log.Info("login process exited", "exit_code", ls.proc.ExitCode())
			m.scheduleValidation()
			return

		case <-ctx.Done():
			ls.abandon()
			return
		}
	}
}

// scheduleValidation queues the post-login auth check.
func (m *Manager) scheduleValidation() {
	ch := m.queue.Submit("login-validation", m.cfg.AuthCheckTimeout+queueSlack, func(ctx context.Context) (any, error) {
		m.mu.Lock()
		superseded := m.login != nil
		m.mu.Unlock()
		if superseded || !m.State().IsLoginInProgress() {
			m.log.Debug("skipping validation for superseded login")
			return nil, nil
		}

		m.machine.TryFire(ctx, state.TriggerLoginExited)
		if !m.validate(ctx) {
			return nil, ErrNotAuthenticated
		}
		return nil, nil
	})

	go func() {
		if res := <-ch; res.Err != nil && !errors.Is(res.Err, ErrNotAuthenticated) {
			m.log.Error("login validation failed", "error", res.Err)
		}
	}()
}

// validate runs a cache-bypassing auth check from the validating state.
// It runs on the queue.
func (m *Manager) validate(ctx context.Context) bool {
	check, err := m.client.WhoAmI(ctx, m.cfg.AuthCheckTimeout)
	if err == nil && check.Status == bridge.AuthOK {
		m.unstable.Store(false)
		m.mu.Lock()
		m.identity = check.Identity
		m.mu.Unlock()
		m.qrCache.Invalidate()
		m.chatCache.Invalidate()
		m.authCache.Set(true)
		m.machine.TryFire(ctx, state.TriggerValidated)
		m.log.Info("login validated", "identity", check.Identity)
		m.emit(EventAuthenticated, AuthenticatedPayload{Identity: check.Identity})
		return true
	}

	reason := "auth check failed"
	if err != nil {
		reason = err.Error()
	} else if check != nil {
		reason = check.Status.String()
	}
	m.authCache.Set(false)
	m.qrCache.Invalidate()
	m.machine.TryFire(ctx, state.TriggerValidationFailed)
	m.log.Warn("login validation failed", "reason", reason)
	m.emit(EventValidationFailed, ReasonPayload{Reason: reason})
	return false
}

// killLogin kills and forgets the tracked login process, if any.
func (m *Manager) killLogin(reason string) {
	m.mu.Lock()
	ls := m.login
	m.login = nil
	m.mu.Unlock()

	if ls == nil {
		return
	}
	m.log.Info("killing login process", "pid", ls.proc.PID(), "reason", reason)
	ls.abandon()
}

// clearLogin forgets ls if it is still the tracked login.
func (m *Manager) clearLogin(ls *loginSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.login != ls {
		return false
	}
	m.login = nil
	return true
}

// LoginInProgress reports whether a login process is being tracked.
func (m *Manager) LoginInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.login != nil
}
