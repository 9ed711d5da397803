// Package session turns the single-threaded bridge CLI into a concurrently
// callable service. Manager owns the session state machine, the caches,
// the operation queue and the login mutex.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/cache"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/config"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/queue"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/store"
)

// queueSlack is added to queue timeouts for operations that enforce their
// own inner deadlines, so the inner deadline fires first.
const queueSlack = 5 * time.Second

// Manager is the session facade.
type Manager struct {
	cfg     *config.Config
	client  *bridge.Client
	machine *state.Machine
	queue   *queue.Queue
	loginMu queue.Mutex
	history *store.SQLiteStore
	log     *slog.Logger

	authCache *cache.Entry[bool]
	qrCache   *cache.Entry[pairingCode]
	chatCache *cache.Entry[[]bridge.Chat]
	caches    cache.Group

	// Read from transition callbacks, which run inside Fire; an atomic keeps
	// those callbacks free of mu.
	unstable atomic.Bool

	mu       sync.Mutex
	login    *loginSession
	identity string

	staleCleanups atomic.Int64
	messagesSent  atomic.Int64
	startTime     time.Time

	events         chan Event
	eventsClosed   bool
	eventListeners []func(Event)
	stateListeners []func(from, to state.State)
	listenerMu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a session manager. history may be nil to disable the audit
// log.
func New(cfg *config.Config, client *bridge.Client, history *store.SQLiteStore) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	log := slog.Default().With("component", "session")

	m := &Manager{
		cfg:       cfg,
		client:    client,
		machine:   state.NewMachine(),
		queue:     queue.New(cfg.QueuePause, slog.Default()),
		history:   history,
		log:       log,
		authCache: cache.New[bool](cfg.AuthCacheTTL),
		qrCache:   cache.New[pairingCode](cfg.QRCacheTTL),
		chatCache: cache.New[[]bridge.Chat](cfg.ChatCacheTTL),
		startTime: time.Now(),
		events:    make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.caches = cache.Group{m.authCache, m.qrCache, m.chatCache}

	m.machine.OnTransition(func(ctx context.Context, from, to state.State, trigger state.Trigger) {
		m.log.Info("state transition", "from", from, "to", to, "trigger", trigger, "unstable", m.unstable.Load())

		if m.history != nil {
			if err := m.history.State.LogTransition(context.Background(), from, to, string(trigger), m.unstable.Load()); err != nil {
				m.log.Error("failed to log transition", "error", err)
			}
		}

		m.listenerMu.RLock()
		listeners := make([]func(from, to state.State), len(m.stateListeners))
		copy(listeners, m.stateListeners)
		m.listenerMu.RUnlock()

		for _, listener := range listeners {
			listener(from, to)
		}
	})

	m.queue.OnComplete(func(rec queue.Record) {
		if m.history == nil {
			return
		}
		op := &store.Operation{
			ID:        rec.ID,
			Name:      rec.Name,
			QueuedAt:  rec.Queued,
			StartedAt: rec.Started,
			Duration:  rec.Duration,
			TimedOut:  rec.TimedOut,
		}
		if rec.Err != nil {
			op.Error = rec.Err.Error()
		}
		if err := m.history.Operations.Record(context.Background(), op); err != nil {
			m.log.Error("failed to record operation", "op", rec.Name, "error", err)
		}
	})

	m.wg.Add(1)
	go m.processEvents()

	return m
}

// State returns the current session state.
func (m *Manager) State() state.State {
	s, _ := m.machine.State(context.Background())
	return s
}

// Unstable reports whether the session must be re-established by a fresh
// login before it is trusted again.
func (m *Manager) Unstable() bool {
	return m.unstable.Load()
}

// Identity returns the account seen by the last successful auth check.
func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// StateMachine exposes the underlying machine for tests and diagnostics.
func (m *Manager) StateMachine() *state.Machine {
	return m.machine
}

// OnEvent registers a callback for session events.
func (m *Manager) OnEvent(handler func(Event)) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.eventListeners = append(m.eventListeners, handler)
}

// OnStateChange registers a callback for state changes. Callbacks run
// synchronously with the transition and must not fire triggers.
func (m *Manager) OnStateChange(handler func(from, to state.State)) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.stateListeners = append(m.stateListeners, handler)
}

// emit queues an event for listeners without blocking.
func (m *Manager) emit(t EventType, payload any) {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	if m.eventsClosed {
		return
	}
	select {
	case m.events <- NewEvent(t, payload):
	default:
		m.log.Warn("event queue full, dropping event", "type", t)
	}
}

func (m *Manager) processEvents() {
	defer m.wg.Done()

	for evt := range m.events {
		m.log.Debug("processing event", "type", evt.Type)

		m.listenerMu.RLock()
		listeners := make([]func(Event), len(m.eventListeners))
		copy(listeners, m.eventListeners)
		m.listenerMu.RUnlock()

		for _, listener := range listeners {
			listener(evt)
		}
	}
}

// Close kills any login process, rejects queued operations and stops
// event delivery. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.killLogin("shutdown")
	m.cancel()
	m.queue.Close()

	m.listenerMu.Lock()
	if !m.eventsClosed {
		m.eventsClosed = true
		close(m.events)
	}
	m.listenerMu.Unlock()

	m.wg.Wait()
}

// markUnstable sets the sticky unstable flag and drops every cache.
func (m *Manager) markUnstable(reason string) {
	if !m.unstable.Swap(true) {
		m.log.Warn("session marked unstable", "reason", reason)
	}
	m.caches.InvalidateAll()
}

// enterError marks the session unstable and moves it to the error state,
// from which the next login starts over.
func (m *Manager) enterError(ctx context.Context, reason string) {
	m.markUnstable(reason)
	if m.machine.TryFire(ctx, state.TriggerFatalError) {
		m.log.Error("session entered error state", "reason", reason)
	}
}

// sessionDropped moves an authenticated session back to idle.
func (m *Manager) sessionDropped(ctx context.Context, reason string) {
	if m.machine.TryFire(ctx, state.TriggerSessionDropped) {
		m.log.Warn("session dropped", "reason", reason)
		m.emit(EventSessionDropped, ReasonPayload{Reason: reason})
	}
}
