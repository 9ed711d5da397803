package state

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// TransitionCallback is called when a state transition occurs.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// Machine wraps the stateless state machine with bridge-session behavior.
// Fire calls are serialized so that a check-then-fire sequence observes a
// consistent state.
type Machine struct {
	sm          *stateless.StateMachine
	fireMu      sync.Mutex
	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine() *Machine {
	m := &Machine{
		callbacks: make([]TransitionCallback, 0),
	}

	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(TriggerLogin, StateStarting).
		Permit(TriggerResync, StateAuthenticated).
		Permit(TriggerShutdown, StateShuttingDown).
		Permit(TriggerFatalError, StateError)

	// A bridge that is already paired exits without printing a code.
	sm.Configure(StateStarting).
		Permit(TriggerQRDetected, StateQRReady).
		Permit(TriggerLoginExited, StateValidating).
		Permit(TriggerReset, StateIdle).
		Permit(TriggerShutdown, StateShuttingDown).
		Permit(TriggerFatalError, StateError)

	sm.Configure(StateQRReady).
		Permit(TriggerCodeDelivered, StateAwaitingPairing).
		Permit(TriggerReset, StateIdle).
		Permit(TriggerShutdown, StateShuttingDown).
		Permit(TriggerFatalError, StateError)

	sm.Configure(StateAwaitingPairing).
		Permit(TriggerLoggedIn, StateSyncing).
		Permit(TriggerLoginExited, StateValidating).
		Permit(TriggerReset, StateIdle).
		Permit(TriggerShutdown, StateShuttingDown).
		Permit(TriggerFatalError, StateError)

	// Syncing lasts for the settle delay, then the bridge is asked to exit.
	sm.Configure(StateSyncing).
		Permit(TriggerSyncSettled, StateValidating).
		Permit(TriggerLoginExited, StateValidating).
		Permit(TriggerReset, StateIdle).
		Permit(TriggerShutdown, StateShuttingDown).
		Permit(TriggerFatalError, StateError)

	sm.Configure(StateValidating).
		Permit(TriggerValidated, StateAuthenticated).
		Permit(TriggerValidationFailed, StateIdle).
		Permit(TriggerReset, StateIdle).
		Permit(TriggerShutdown, StateShuttingDown).
		Permit(TriggerFatalError, StateError)

	sm.Configure(StateAuthenticated).
		Permit(TriggerSessionDropped, StateIdle).
		Permit(TriggerReset, StateIdle).
		Permit(TriggerShutdown, StateShuttingDown).
		Permit(TriggerFatalError, StateError)

	sm.Configure(StateError).
		Permit(TriggerReset, StateIdle).
		Permit(TriggerShutdown, StateShuttingDown)

	sm.Configure(StateShuttingDown).
		Permit(TriggerShutdownComplete, StateIdle)

	sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)

		for _, cb := range callbacks {
			cb(ctx, from, to, trigger)
		}
	})

	m.sm = sm
	return m
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	state, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return state.(State), nil
}

// Fire triggers a state transition.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	m.fireMu.Lock()
	defer m.fireMu.Unlock()
	return m.sm.FireCtx(ctx, trigger, args...)
}

// TryFire fires the trigger only if the current state permits it and
// reports whether a transition happened.
func (m *Machine) TryFire(ctx context.Context, trigger Trigger) bool {
	m.fireMu.Lock()
	defer m.fireMu.Unlock()

	ok, err := m.sm.CanFireCtx(ctx, trigger)
	if err != nil || !ok {
		return false
	}
	return m.sm.FireCtx(ctx, trigger) == nil
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// IsInState returns true if the machine is in the specified state.
func (m *Machine) IsInState(ctx context.Context, state State) (bool, error) {
	currentState, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	return currentState == state, nil
}

// Reset returns the machine to Idle from any state that permits it.
// It is a no-op when already idle.
func (m *Machine) Reset(ctx context.Context) {
	m.TryFire(ctx, TriggerReset)
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// MustState returns the current state, panicking on error.
func (m *Machine) MustState() State {
	state, err := m.State(context.Background())
	if err != nil {
		panic(err)
	}
	return state
}

// IsAuthenticated returns true if the session is in Authenticated state.
func (m *Machine) IsAuthenticated() bool {
	return m.MustState() == StateAuthenticated
}
