package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func get(t *testing.T, h http.Handler, path string, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func pass(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }}).Register(mux)

	code, body := get(t, mux, "/healthz", context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	journalUp := true
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "config", Check: pass},
				Condition("journal", "unreachable", func() bool { return journalUp }),
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"config": "ok", "journal": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "config", Check: pass},
				Condition("synthesis", "backend system unavailable", func() bool { return false }),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"config": "ok", "synthesis": "fail: backend system unavailable"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "a", Check: func(context.Context) error { return errors.New("x") }},
				{Name: "b", Check: func(context.Context) error { return errors.New("y") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"a": "fail: x", "b": "fail: y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			New(tt.checkers...).Register(mux)
			code, body := get(t, mux, "/readyz", context.Background())

			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	start := time.Now()
	code, _ := get(t, http.HandlerFunc(h.Readyz), "/readyz", context.Background())
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if elapsed := time.Since(start); elapsed > 550*time.Millisecond {
		t.Errorf("readyz took %s, checks did not run in parallel", elapsed)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		Condition("flag", "off", func() bool { return true }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, body := get(t, http.HandlerFunc(h.Readyz), "/readyz", ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Checks["flag"] == "ok" {
		t.Error("condition passed on a cancelled request")
	}
}
