package eventloop

import "sync"

// Task is a unit of work run on the loop goroutine.
type Task func()

// Ingress is the Task Channel: a multi-producer, single-consumer queue fed by
// worker goroutines and drained by the loop. Tasks pushed after Close are
// dropped.
type Ingress struct {
	mu     sync.Mutex
	queue  []Task
	wake   chan struct{}
	closed bool
}

// NewIngress creates an open, empty queue.
func NewIngress() *Ingress {
	return &Ingress{wake: make(chan struct{}, 1)}
}

// Push enqueues t and wakes the consumer. It reports false when the queue
// is closed and t was dropped. Safe for concurrent use.
func (q *Ingress) Push(t Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.queue = append(q.queue, t)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Requeue puts tasks back at the head of the queue, ahead of anything
// pushed since they were drained.
func (q *Ingress) Requeue(tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(append(make([]Task, 0, len(tasks)+len(q.queue)), tasks...), q.queue...)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued task in arrival order.
func (q *Ingress) Drain() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.queue
	q.queue = nil
	return out
}

// Len returns the number of queued tasks.
func (q *Ingress) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Wake is signalled after a push.
func (q *Ingress) Wake() <-chan struct{} {
	return q.wake
}

// Close drops queued tasks and rejects future pushes.
func (q *Ingress) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.queue = nil
}

// Closed reports whether Close has been called.
func (q *Ingress) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
