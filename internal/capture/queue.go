// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueCapacity bounds staleness between the frame source and the video loop.
const DefaultQueueCapacity = 3

// Queue is a fixed-capacity ring with drop-oldest insert. Push never blocks.
// Safe for any number of producers and consumers.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	n       int
	evicted uint64
	notify  chan struct{}
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push admits v, evicting the oldest element when full. It reports whether
// an element was evicted.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	evicted := false
	if q.n == len(q.buf) {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.evicted++
		evicted = true
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// TryPop removes the oldest element without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

// Poll waits up to timeout for an element.
func (q *Queue[T]) Poll(ctx context.Context, timeout time.Duration) (T, bool) {
	if v, ok := q.TryPop(); ok {
		return v, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if v, ok := q.TryPop(); ok {
				return v, true
			}
		case <-timer.C:
			return q.TryPop()
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.buf) }

// Evicted returns how many elements were dropped to admit newer ones.
func (q *Queue[T]) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Snapshot returns the queued elements, oldest first.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, q.n)
	for i := 0; i < q.n; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}
