package queue

import (
	"context"
	"sync"
)

// Mutex is a FIFO-fair lock. Release hands ownership directly to the
// longest waiter, so a late arrival can never overtake the list.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Acquire blocks until the lock is held or ctx ends.
func (m *Mutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range m.waiters {
			if w == ch {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		m.mu.Unlock()
		// Ownership was handed over while ctx ended; pass it on.
		m.Release()
		return ctx.Err()
	}
}

// Release unlocks the mutex or hands it to the next waiter.
func (m *Mutex) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held {
		panic("queue: release of unlocked mutex")
	}
	if len(m.waiters) == 0 {
		m.held = false
		return
	}
	next := m.waiters[0]
	m.waiters[0] = nil
	m.waiters = m.waiters[1:]
	close(next)
}

// Waiting returns the number of blocked callers.
func (m *Mutex) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
