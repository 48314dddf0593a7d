package relay

import "sync"

// Stream is a buffered channel with a single producer side that never blocks.
// When the buffer is full the oldest pending value is discarded to make room,
// so a slow or absent consumer can never stall the goroutine that emits.
//
// A Stream is created once and reused for the lifetime of its owner; only
// [Stream.Close] ends it.
type Stream[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// NewStream returns a Stream buffering up to size values. A size below 1 is
// treated as 1.
func NewStream[T any](size int) *Stream[T] {
	if size < 1 {
		size = 1
	}
	return &Stream[T]{ch: make(chan T, size)}
}

// C returns the receive side of the stream. The same channel is returned on
// every call.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}

// Send enqueues v. It reports whether an older value had to be dropped.
// Sending on a closed Stream is a no-op.
func (s *Stream[T]) Send(v T) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- v:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

// Drain discards every value currently buffered and returns how many were
// removed.
func (s *Stream[T]) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for {
		select {
		case _, ok := <-s.ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Close closes the underlying channel. Calling Close more than once is safe.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
