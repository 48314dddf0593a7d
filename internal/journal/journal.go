// Package journal records what a parley instance heard and said: every final
// recognition result and the outcome of every speak request.
//
// Two [Store] implementations are provided. [MemStore] keeps a bounded ring
// of recent entries in memory; [PostgresStore] persists entries to a
// PostgreSQL table. Both are safe for concurrent use.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an [Entry].
type Kind string

const (
	// KindUtterance is a final recognition result.
	KindUtterance Kind = "utterance"

	// KindSpeech is the outcome of one speak request.
	KindSpeech Kind = "speech"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("journal: store closed")

// Entry is one journal record.
type Entry struct {
	ID uuid.UUID

	// SessionID groups entries of one listening session. Speech entries
	// carry the ID of their own request.
	SessionID uuid.UUID

	Kind Kind

	// Backend is the provider kind that produced the entry. For speech that
	// fell back, it is the backend that finally spoke.
	Backend string

	Text string

	// Confidence is set for utterances only.
	Confidence float64

	// Status is "completed", "cancelled" or "failed" for speech, "final" for
	// utterances.
	Status string

	// Error holds the failure message, if any.
	Error string

	Duration  time.Duration
	Timestamp time.Time
}

// Store persists journal entries.
type Store interface {
	// Append records e. A zero ID or Timestamp is filled in.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first. A limit of zero or
	// less returns everything the store holds.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Ping reports whether the store can currently accept writes.
	Ping(ctx context.Context) error

	Close() error
}

// normalize fills in the generated fields of e.
func normalize(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}
