// Package queue serializes work against the bridge process.
//
// Queue runs at most one operation at a time in FIFO order, racing each
// against its own timeout. Mutex is a separate FIFO-fair lock used to keep
// multi-step authentication sequences from interleaving; it does not
// interact with the queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout is returned to the caller when an operation outlives its timeout.
	ErrTimeout = errors.New("operation timed out")
	// ErrClosed is returned for operations that were pending when the queue closed.
	ErrClosed = errors.New("operation queue closed")
)

// Operation is a unit of work run on the queue's turn.
type Operation func(ctx context.Context) (any, error)

// Result is the settled outcome of an operation.
type Result struct {
	Value any
	Err   error
}

// Record describes a finished operation.
type Record struct {
	ID       string
	Name     string
	Queued   time.Time
	Started  time.Time
	Duration time.Duration
	TimedOut bool
	Err      error
}

type item struct {
	id      string
	name    string
	op      Operation
	timeout time.Duration
	queued  time.Time
	result  chan Result
}

// Queue is a FIFO serializer with per-operation timeouts.
type Queue struct {
	pause time.Duration
	log   *slog.Logger

	mu       sync.Mutex
	pending  []*item
	draining bool
	closed   bool
	hooks    []func(Record)

	processed atomic.Int64
	timeouts  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue that waits pause between operations.
func New(pause time.Duration, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		pause:  pause,
		log:    log.With("component", "queue"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnComplete registers a hook called after every operation settles.
func (q *Queue) OnComplete(hook func(Record)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hooks = append(q.hooks, hook)
}

// Submit appends an operation and returns a channel that receives its
// result exactly once. A non-positive timeout disables the timer.
func (q *Queue) Submit(name string, timeout time.Duration, op Operation) <-chan Result {
	it := &item{
		id:      uuid.NewString(),
		name:    name,
		op:      op,
		timeout: timeout,
		queued:  time.Now(),
		result:  make(chan Result, 1),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		it.result <- Result{Err: ErrClosed}
		return it.result
	}

	q.pending = append(q.pending, it)
	q.log.Debug("operation enqueued", "op", name, "id", it.id, "depth", len(q.pending))

	// A running drain loop picks the item up; it re-checks pending under
	// this lock before it exits.
	if !q.draining {
		q.draining = true
		q.wg.Add(1)
		go q.drain()
	}
	return it.result
}

// Enqueue submits an operation and waits for its result. If ctx ends first
// the caller stops waiting but the operation keeps its place in the queue.
func (q *Queue) Enqueue(ctx context.Context, name string, timeout time.Duration, op Operation) (any, error) {
	ch := q.Submit(name, timeout, op)
	select {
	case res := <-ch:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do is a typed wrapper around Enqueue.
func Do[T any](ctx context.Context, q *Queue, name string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := q.Enqueue(ctx, name, timeout, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	t, _ := v.(T)
	return t, err
}

// Len returns the number of operations waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Processed returns the number of operations that have settled.
func (q *Queue) Processed() int64 {
	return q.processed.Load()
}

// TimedOut returns the number of operations that hit their timeout.
func (q *Queue) TimedOut() int64 {
	return q.timeouts.Load()
}

// Close rejects pending operations and stops the drain loop. An operation
// already running is abandoned, not waited for.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range pending {
		it.result <- Result{Err: ErrClosed}
	}
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.closed {
			q.draining = false
			q.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.run(it)

		select {
		case <-time.After(q.pause):
		case <-q.ctx.Done():
		}
	}
}

func (q *Queue) run(it *item) {
	started := time.Now()
	q.log.Debug("operation started", "op", it.name, "id", it.id, "waited", started.Sub(it.queued))

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Err: fmt.Errorf("operation %s panicked: %v", it.name, r)}
			}
		}()
		v, err := it.op(q.ctx)
		done <- Result{Value: v, Err: err}
	}()

	var timeout <-chan time.Time
	if it.timeout > 0 {
		timer := time.NewTimer(it.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var res Result
	timedOut := false
	select {
	case res = <-done:
	case <-timeout:
		// The operation keeps running; only the caller is released.
		timedOut = true
		res = Result{Err: fmt.Errorf("%s: %w", it.name, ErrTimeout)}
		q.timeouts.Add(1)
		q.log.Warn("operation timed out", "op", it.name, "id", it.id, "timeout", it.timeout)
	case <-q.ctx.Done():
		res = Result{Err: ErrClosed}
	}

	it.result <- res
	q.processed.Add(1)

	rec := Record{
		ID:       it.id,
		Name:     it.name,
		Queued:   it.queued,
		Started:  started,
		Duration: time.Since(started),
		TimedOut: timedOut,
		Err:      res.Err,
	}
	if res.Err != nil && !timedOut {
		q.log.Debug("operation failed", "op", it.name, "id", it.id, "error", res.Err)
	}

	q.mu.Lock()
	hooks := make([]func(Record), len(q.hooks))
	copy(hooks, q.hooks)
	q.mu.Unlock()
	for _, hook := range hooks {
		hook(rec)
	}
}
