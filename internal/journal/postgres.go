package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlJournal = `
CREATE TABLE IF NOT EXISTS journal_entries (
    id          UUID         PRIMARY KEY,
    session_id  UUID         NOT NULL,
    kind        TEXT         NOT NULL,
    backend     TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    status      TEXT         NOT NULL DEFAULT '',
    error       TEXT         NOT NULL DEFAULT '',
    duration_ns BIGINT       NOT NULL DEFAULT 0,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_timestamp
    ON journal_entries (timestamp DESC);

CREATE INDEX IF NOT EXISTS idx_journal_entries_session_id
    ON journal_entries (session_id);
`

// PostgresStore is a Store backed by the journal_entries table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and runs
// [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the journal table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlJournal); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO journal_entries
		    (id, session_id, kind, backend, text, confidence, status, error, duration_ns, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	e = normalize(e)
	_, err := s.pool.Exec(ctx, q,
		e.ID,
		e.SessionID,
		string(e.Kind),
		e.Backend,
		e.Text,
		e.Confidence,
		e.Status,
		e.Error,
		e.Duration.Nanoseconds(),
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	q := `
		SELECT id, session_id, kind, backend, text, confidence, status, error, duration_ns, timestamp
		FROM   journal_entries
		ORDER  BY timestamp DESC`
	var args []any
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e          Entry
			kind       string
			durationNS int64
		)
		if err := row.Scan(&e.ID, &e.SessionID, &kind, &e.Backend, &e.Text, &e.Confidence, &e.Status, &e.Error, &durationNS, &e.Timestamp); err != nil {
			return Entry{}, err
		}
		e.Kind = Kind(kind)
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan: %w", err)
	}
	return entries, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("journal: ping: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
