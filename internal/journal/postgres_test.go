package journal_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/journal"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if PARLEY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *journal.PostgresStore {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS journal_entries CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	pool.Close()

	s, err := journal.NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := uuid.New()
	base := time.Now().UTC().Truncate(time.Microsecond)
	entries := []journal.Entry{
		{SessionID: session, Kind: journal.KindUtterance, Backend: "vosk", Text: "hello there", Confidence: 0.9, Status: "final", Timestamp: base},
		{Kind: journal.KindSpeech, Backend: "system", Text: "general kenobi", Status: "completed", Duration: 1500 * time.Millisecond, Timestamp: base.Add(time.Second)},
		{Kind: journal.KindSpeech, Backend: "elevenlabs", Text: "oops", Status: "failed", Error: "network unavailable", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries, want 2", len(got))
	}
	if got[0].Text != "oops" || got[0].Error != "network unavailable" || got[0].Status != "failed" {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].Duration != 1500*time.Millisecond || got[1].Kind != journal.KindSpeech {
		t.Errorf("second = %+v", got[1])
	}

	all, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent(0): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Recent(0) returned %d entries, want 3", len(all))
	}
	oldest := all[2]
	if oldest.SessionID != session || oldest.Confidence != 0.9 || !oldest.Timestamp.Equal(base) {
		t.Errorf("oldest = %+v", oldest)
	}
	if oldest.ID == uuid.Nil {
		t.Error("ID was not generated")
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPostgresStore_MigrateIdempotent(t *testing.T) {
	_ = newTestStore(t)
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := journal.Migrate(ctx, pool); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}
