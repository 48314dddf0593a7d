// Package relay provides the two concurrency primitives shared by every
// speech adapter and engine: a serial execution [Queue] that acts as the
// single owning context for provider state, and a non-blocking [Stream] that
// carries results and events to exactly one consumer.
//
// Native speech backends invoke their callbacks from arbitrary goroutines
// (audio threads, timers, network readers). Adapters copy each callback into
// plain values and Post a closure to their Queue; the Queue runs closures one
// at a time in the order they were posted, so adapter state is only ever
// touched from one goroutine at a time and callback ordering is preserved.
package relay

import "sync"

// Queue executes posted closures sequentially on a dedicated goroutine in
// FIFO order. Post never blocks the caller.
//
// A Queue must be closed with [Queue.Close] to release its goroutine. Close
// and Do must not be called from inside a closure running on the same Queue.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewQueue starts a new Queue.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Post schedules fn to run after every previously posted closure. It reports
// false (and drops fn) when the Queue has been closed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	q.signal()
	return true
}

// Do posts fn and waits until it has run. It reports false when the Queue
// has been closed, in which case fn never runs.
func (q *Queue) Do(fn func()) bool {
	ran := make(chan struct{})
	if !q.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	<-ran
	return true
}

// Close stops accepting new closures, runs the ones already posted, and
// waits for the worker goroutine to exit. Calling Close more than once is
// safe.
func (q *Queue) Close() {
	q.mu.Lock()
	already := q.closed
	q.closed = true
	q.mu.Unlock()

	if !already {
		q.signal()
	}
	<-q.done
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
