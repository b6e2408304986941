package host

import "sync"

// deferredQueue is the single synchronized boundary between worker
// goroutines and the simulation goroutine. Any goroutine may Push;
// only the simulation goroutine drains, once per tick. Callbacks run
// in enqueue order.
type deferredQueue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *deferredQueue) Push(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

// Drain runs every queued callback in FIFO order. Callbacks enqueued
// while draining run on the next drain.
func (q *deferredQueue) Drain() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of queued callbacks.
func (q *deferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}
