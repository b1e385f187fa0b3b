// Package queue provides the unbounded FIFO between event producers and the engine's consumer.
package queue

import "sync"

// Queue is a multi-producer, single-consumer FIFO. Push never blocks. The consumer waits on Ready
// and then takes everything queued so far with Drain.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends v and wakes the consumer.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
		// A wakeup is already pending.
	}
}

// Ready delivers a value whenever items may be waiting. Spurious wakeups are possible, so Drain
// can return nothing.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain returns every queued item in push order and resets the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
