package bus

import (
	"context"
	"sync/atomic"

	"main/pkg/exception"
)

// Queue is a bounded queue connecting two pipeline stages. TryPublish never
// blocks; Publish applies backpressure until the consumer drains or the
// context ends.
type Queue[T any] struct {
	ch     chan T
	closed atomic.Bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPublish enqueues without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Publish enqueues, blocking while the queue is full.
func (q *Queue[T]) Publish(ctx context.Context, v T) error {
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- v:
		return nil
	}
}

// Close stops the queue from accepting new elements. Buffered elements stay
// readable until drained.
func (q *Queue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// C exposes the receive side for select loops.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Run consumes elements until the context is done or the queue is closed.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-q.ch:
			if !ok {
				return
			}
			handler(v)
		}
	}
}
