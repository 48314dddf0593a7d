package journal

import (
	"context"
	"sync"
)

// DefaultCapacity is the ring size used by NewMemStore for non-positive
// capacities.
const DefaultCapacity = 500

// MemStore keeps the most recent entries in a fixed-size ring. Older entries
// are overwritten once the ring is full.
type MemStore struct {
	mu     sync.Mutex
	buf    []Entry
	next   int
	full   bool
	closed bool
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore holding up to capacity entries.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemStore{buf: make([]Entry, capacity)}
}

// Append implements Store.
func (m *MemStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.buf[m.next] = normalize(e)
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent implements Store.
func (m *MemStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	n := m.len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out, nil
}

// Len returns the number of entries held.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.len()
}

func (m *MemStore) len() int {
	if m.full {
		return len(m.buf)
	}
	return m.next
}

// Ping implements Store.
func (m *MemStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store. Entries are discarded.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.buf = nil
	return nil
}
