// Package batch implements the Nagle-style local-change batching queue
// (spec.md §5): locally originated changes accumulate until either a
// configured batch size B or a nagle interval I elapses, whichever comes
// first, and then flush together in one propagation call.
package batch

import (
	"sync"
	"time"

	"github.com/buildcache/contenttracker/internal/check"
)

// Flusher is called with every item accumulated since the last flush.
type Flusher[T any] func(items []T)

// Queue batches items of type T, flushing to fn when either size or
// interval triggers. A single suspend/resume level is supported: nested
// Suspend calls are a programmer error (asserted, not handled). Outside
// this package's tests, nothing calls Suspend.
type Queue[T any] struct {
	size     int
	interval time.Duration
	fn       Flusher[T]

	mu        sync.Mutex
	pending   []T
	timer     *time.Timer
	suspended bool
}

// New creates a Queue that flushes fn once pending items reach size, or
// interval elapses since the first pending item, whichever comes first.
func New[T any](size int, interval time.Duration, fn Flusher[T]) *Queue[T] {
	return &Queue[T]{size: size, interval: interval, fn: fn}
}

// Add appends item to the pending batch, flushing immediately if this
// reaches the configured size.
func (q *Queue[T]) Add(item T) {
	q.mu.Lock()
	q.pending = append(q.pending, item)

	if len(q.pending) == 1 && q.timer == nil && !q.suspended {
		q.timer = time.AfterFunc(q.interval, q.flushOnTimer)
	}

	var toFlush []T
	if !q.suspended && len(q.pending) >= q.size {
		toFlush = q.takeLocked()
	}
	q.mu.Unlock()

	if toFlush != nil {
		q.fn(toFlush)
	}
}

func (q *Queue[T]) flushOnTimer() {
	q.mu.Lock()
	q.timer = nil
	var toFlush []T
	if !q.suspended {
		toFlush = q.takeLocked()
	}
	q.mu.Unlock()

	if toFlush != nil {
		q.fn(toFlush)
	}
}

// takeLocked clears pending and stops any running timer. Caller holds mu.
func (q *Queue[T]) takeLocked() []T {
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	return out
}

// Flush forces an immediate flush of whatever is pending, bypassing size
// and interval triggers.
func (q *Queue[T]) Flush() {
	q.mu.Lock()
	toFlush := q.takeLocked()
	q.mu.Unlock()

	if toFlush != nil {
		q.fn(toFlush)
	}
}

// SuspendHandle pauses automatic flushing until Resume is called.
type SuspendHandle[T any] struct {
	q *Queue[T]
}

// Suspend pauses size/interval-triggered flushing; items keep
// accumulating until Resume is called on the returned handle. Calling
// Suspend again before the first handle's Resume is a programmer error.
func (q *Queue[T]) Suspend() SuspendHandle[T] {
	q.mu.Lock()
	check.Assert(!q.suspended, "batch.Queue.Suspend called while already suspended")
	q.suspended = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()
	return SuspendHandle[T]{q: q}
}

// Resume re-enables automatic flushing and immediately flushes if the
// pending batch already meets the size threshold.
func (h SuspendHandle[T]) Resume() {
	q := h.q
	q.mu.Lock()
	check.Assert(q.suspended, "batch.Queue.Resume called without a matching Suspend")
	q.suspended = false

	var toFlush []T
	if len(q.pending) >= q.size {
		toFlush = q.takeLocked()
	} else if len(q.pending) > 0 {
		q.timer = time.AfterFunc(q.interval, q.flushOnTimer)
	}
	q.mu.Unlock()

	if toFlush != nil {
		q.fn(toFlush)
	}
}
