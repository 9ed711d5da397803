// Package cache holds short-lived values that save a round trip to the
// bridge process.
package cache

import (
	"sync"
	"time"
)

// Entry is a single cached value trusted only until it expires.
type Entry[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	value   T
	set     bool
	expires time.Time
	checked time.Time
}

// New creates an empty entry with the given time to live.
func New[T any](ttl time.Duration) *Entry[T] {
	return &Entry[T]{ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (e *Entry[T]) WithClock(now func() time.Time) *Entry[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	return e
}

// Get returns the value if it is present and has not expired.
func (e *Entry[T]) Get() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var zero T
	if !e.set || !e.now().Before(e.expires) {
		return zero, false
	}
	return e.value, true
}

// Set stores a value and restarts its TTL.
func (e *Entry[T]) Set(v T) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.value = v
	e.set = true
	e.checked = now
	e.expires = now.Add(e.ttl)
}

// Invalidate drops the value.
func (e *Entry[T]) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero T
	e.value = zero
	e.set = false
	e.expires = time.Time{}
}

// LastSet returns when the value was last stored, even if it has since
// expired or been invalidated. Zero if never set.
func (e *Entry[T]) LastSet() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checked
}

// TTL returns the configured lifetime.
func (e *Entry[T]) TTL() time.Duration {
	return e.ttl
}

// Invalidator is anything that can be cleared.
type Invalidator interface {
	Invalidate()
}

// Group clears several entries together.
type Group []Invalidator

// InvalidateAll clears every entry in the group.
func (g Group) InvalidateAll() {
	for _, e := range g {
		e.Invalidate()
	}
}
