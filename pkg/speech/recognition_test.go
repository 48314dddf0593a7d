package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
)

func newRecognition(t *testing.T, p *sttmock.Provider, opts ...RecognitionOption) *RecognitionEngine {
	t.Helper()
	m, _ := testMetrics(t)
	opts = append([]RecognitionOption{WithRecognitionProvider(p), WithRecognitionMetrics(m)}, opts...)
	e, err := NewRecognitionEngine(nil, opts...)
	if err != nil {
		t.Fatalf("NewRecognitionEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func nextResult(t *testing.T, ch <-chan stt.Event) stt.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
		return stt.Event{}
	}
}

func expectNoResult(t *testing.T, ch <-chan stt.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected result %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecognition_FinalResult(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		handled []stt.Result
	)
	p := sttmock.New()
	e := newRecognition(t, p, WithFinalResultHandler(func(r stt.Result) {
		mu.Lock()
		handled = append(handled, r)
		mu.Unlock()
	}))

	if err := e.StartListening(context.Background(), "en-US"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if !e.IsListening() {
		t.Fatal("IsListening() = false after start")
	}

	p.SimulatePartialResult("hello")
	ev := nextResult(t, e.Results())
	if ev.Result.IsFinal || ev.Result.Text != "hello" {
		t.Fatalf("first result = %+v, want partial hello", ev.Result)
	}
	if _, ok := e.LastResult(); ok {
		t.Error("LastResult set by a partial")
	}
	if got := e.PartialTranscription(); got != "hello" {
		t.Errorf("PartialTranscription() = %q, want hello", got)
	}

	p.SimulateFinalResult("hello there", 0.9)
	ev = nextResult(t, e.Results())
	if !ev.Result.IsFinal {
		t.Fatalf("second result = %+v, want final", ev.Result)
	}

	r, ok := e.LastResult()
	if !ok || r.Text != "hello there" || !r.IsFinal || r.Confidence != 0.9 {
		t.Errorf("LastResult() = %+v, %v", r, ok)
	}
	if e.IsListening() {
		t.Error("IsListening() = true after final result")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0].Text != "hello there" {
		t.Errorf("handler saw %+v", handled)
	}
}

func TestRecognition_ResultFilter(t *testing.T) {
	t.Parallel()

	p := sttmock.New()
	e := newRecognition(t, p, WithResultFilter(func(r stt.Result) stt.Result {
		r.Text = strings.ReplaceAll(r.Text, "tiamat", "Tiamat")
		return r
	}))

	if err := e.StartListening(context.Background(), "en-US"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	p.SimulatePartialResult("tiamat")
	if ev := nextResult(t, e.Results()); ev.Result.Text != "tiamat" {
		t.Errorf("partial filtered to %q", ev.Result.Text)
	}
	p.SimulateFinalResult("summon tiamat", 1)
	if ev := nextResult(t, e.Results()); ev.Result.Text != "summon Tiamat" {
		t.Errorf("forwarded final = %q, want filtered text", ev.Result.Text)
	}
	if r, _ := e.LastResult(); r.Text != "summon Tiamat" {
		t.Errorf("LastResult().Text = %q, want filtered text", r.Text)
	}
}

func TestRecognition_StartFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*sttmock.Provider)
		wantErr error
	}{
		{
			name:    "not authorized",
			setup:   func(p *sttmock.Provider) { p.SetAuthorizationStatus(stt.Denied) },
			wantErr: stt.ErrNotAuthorized,
		},
		{
			name:    "recognizer refused",
			setup:   func(p *sttmock.Provider) { p.StartErr = stt.NewRecognitionFailed("model busy") },
			wantErr: stt.ErrRecognitionFailed,
		},
		{
			name:    "capture failed",
			setup:   func(p *sttmock.Provider) { p.StartErr = stt.NewAudioEngineError("no input device") },
			wantErr: stt.ErrAudioEngine,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := sttmock.New()
			tt.setup(p)
			e := newRecognition(t, p)

			err := e.StartListening(context.Background(), "en-US")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("StartListening = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(e.Err(), tt.wantErr) {
				t.Errorf("Err() = %v, want %v", e.Err(), tt.wantErr)
			}
			if p.SimulateFinalResult("ghost", 1) {
				t.Error("mock accepted a result without a session")
			}
			expectNoResult(t, e.Results())
			if _, ok := e.LastResult(); ok {
				t.Error("LastResult set after failed start")
			}
		})
	}
}

// staleProvider is a mock whose result channel already holds an event from
// an earlier session.
type staleProvider struct {
	*sttmock.Provider
	ch chan stt.Event
}

func (p *staleProvider) Results() <-chan stt.Event { return p.ch }

func TestRecognition_StartFailureLeavesResultsUnread(t *testing.T) {
	t.Parallel()

	p := &staleProvider{Provider: sttmock.New(), ch: make(chan stt.Event, 1)}
	p.StartErr = stt.NewAudioEngineError("no input device")
	p.ch <- stt.Event{Result: stt.Result{Text: "stale", IsFinal: true, Confidence: 1}}

	var handled int
	var mu sync.Mutex
	m, _ := testMetrics(t)
	e, err := NewRecognitionEngine(nil,
		WithRecognitionProvider(p),
		WithRecognitionMetrics(m),
		WithFinalResultHandler(func(stt.Result) {
			mu.Lock()
			handled++
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("NewRecognitionEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	if err := e.StartListening(context.Background(), "en-US"); !errors.Is(err, stt.ErrAudioEngine) {
		t.Fatalf("StartListening = %v, want audioEngineError", err)
	}
	expectNoResult(t, e.Results())
	if r, ok := e.LastResult(); ok {
		t.Errorf("LastResult() = %+v after failed start", r)
	}
	mu.Lock()
	defer mu.Unlock()
	if handled != 0 {
		t.Errorf("final-result handler called %d times, want 0", handled)
	}
	if len(p.ch) != 1 {
		t.Error("engine read the provider channel although start failed")
	}
}

func TestRecognition_StopDeliversFinalizedResult(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		handled []string
	)
	p := sttmock.New()
	p.FinalizeOnStop = true
	e := newRecognition(t, p, WithFinalResultHandler(func(r stt.Result) {
		mu.Lock()
		handled = append(handled, r.Text)
		mu.Unlock()
	}))

	if err := e.StartListening(context.Background(), "en-US"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	p.SimulatePartialResult("open the")
	nextResult(t, e.Results())

	e.StopListening()

	r, ok := e.LastResult()
	if !ok || r.Text != "open the" || !r.IsFinal {
		t.Fatalf("LastResult() = %+v, %v, want the finalized partial", r, ok)
	}
	if ev := nextResult(t, e.Results()); !ev.Result.IsFinal || ev.Result.Text != "open the" {
		t.Errorf("forwarded %+v, want final %q", ev.Result, "open the")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 {
		t.Errorf("handler calls = %v, want one", handled)
	}
}

func TestRecognition_ProviderErrorPassesThrough(t *testing.T) {
	t.Parallel()

	p := sttmock.New()
	p.SetAuthorizationStatus(stt.NotDetermined)
	e := newRecognition(t, p)

	if err := e.StartListening(context.Background(), "de-DE"); err != stt.ErrNotAuthorized {
		t.Fatalf("StartListening = %v, want the provider's sentinel unchanged", err)
	}
	if got := e.RequestAuthorization(context.Background()); got != stt.Authorized {
		t.Fatalf("RequestAuthorization() = %v, want authorized", got)
	}
	if err := e.StartListening(context.Background(), "de-DE"); err != nil {
		t.Fatalf("StartListening after authorization: %v", err)
	}
	if e.Err() != nil {
		t.Errorf("Err() = %v, want reset to nil", e.Err())
	}
}

func TestRecognition_SessionError(t *testing.T) {
	t.Parallel()

	p := sttmock.New()
	e := newRecognition(t, p)
	if err := e.StartListening(context.Background(), "en-US"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}

	p.SimulateError(stt.NewRecognitionFailed("stream reset"))
	ev := nextResult(t, e.Results())
	if !errors.Is(ev.Err, stt.ErrRecognitionFailed) {
		t.Fatalf("event error = %v, want RecognitionFailed", ev.Err)
	}
	if !errors.Is(e.Err(), stt.ErrRecognitionFailed) {
		t.Errorf("Err() = %v, want RecognitionFailed", e.Err())
	}
}

func TestRecognition_RestartResetsState(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		count int
	)
	p := sttmock.New()
	e := newRecognition(t, p, WithFinalResultHandler(func(stt.Result) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	if err := e.StartListening(context.Background(), "en-US"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	p.SimulateFinalResult("first", 1)
	nextResult(t, e.Results())

	for range 3 {
		if err := e.StartListening(context.Background(), "en-US"); err != nil {
			t.Fatalf("restart: %v", err)
		}
		if _, ok := e.LastResult(); ok {
			t.Fatal("LastResult survived a restart")
		}
	}

	p.SimulateFinalResult("second", 1)
	if ev := nextResult(t, e.Results()); ev.Result.Text != "second" {
		t.Fatalf("result = %q, want second", ev.Result.Text)
	}
	expectNoResult(t, e.Results())

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("handler called %d times, want 2", count)
	}
	if len(p.StartListeningCalls) != 4 {
		t.Errorf("provider started %d times, want 4", len(p.StartListeningCalls))
	}
}

func TestRecognition_StopIdempotent(t *testing.T) {
	t.Parallel()

	p := sttmock.New()
	e := newRecognition(t, p)

	e.StopListening()
	e.StopListening()
	if e.IsListening() {
		t.Error("IsListening() = true")
	}
	if _, ok := e.LastResult(); ok || e.Err() != nil {
		t.Error("stop without a session changed engine state")
	}

	if err := e.StartListening(context.Background(), "en-US"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	e.StopListening()
	e.StopListening()
	if e.IsListening() {
		t.Error("IsListening() = true after stop")
	}
	if p.SimulateFinalResult("late", 1) {
		t.Error("provider still accepting results after stop")
	}
	expectNoResult(t, e.Results())
}

func TestRecognition_Close(t *testing.T) {
	t.Parallel()

	p := sttmock.New()
	m, _ := testMetrics(t)
	e, err := NewRecognitionEngine(nil, WithRecognitionProvider(p), WithRecognitionMetrics(m))
	if err != nil {
		t.Fatalf("NewRecognitionEngine: %v", err)
	}
	if err := e.StartListening(context.Background(), "en-US"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.CloseCalls != 1 {
		t.Errorf("provider closed %d times, want 1", p.CloseCalls)
	}
	if _, ok := <-e.Results(); ok {
		t.Error("result stream still open after Close")
	}
}

func TestRecognition_ActiveSessionGauge(t *testing.T) {
	t.Parallel()

	p := sttmock.New()
	m, reader := testMetrics(t)
	e, err := NewRecognitionEngine(nil, WithRecognitionProvider(p), WithRecognitionMetrics(m))
	if err != nil {
		t.Fatalf("NewRecognitionEngine: %v", err)
	}
	defer e.Close()

	if err := e.StartListening(context.Background(), "en-US"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if got := counterValue(t, reader, "parley.recognition.active_sessions", nil); got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}
	p.SimulateFinalResult("done", 1)
	nextResult(t, e.Results())
	e.StopListening()
	if got := counterValue(t, reader, "parley.recognition.active_sessions", nil); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
	if got := counterValue(t, reader, "parley.recognition.results", map[string]string{"final": "true"}); got != 1 {
		t.Errorf("final results = %d, want 1", got)
	}
}

func TestRecognition_BuildsFromRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	p := sttmock.New()
	reg.RegisterRecognition(stt.KindMock, RecognitionBackend{New: func() (stt.Provider, error) { return p, nil }})
	m, _ := testMetrics(t)

	e, err := NewRecognitionEngine(reg, WithRecognitionKind(stt.KindMock), WithRecognitionMetrics(m))
	if err != nil {
		t.Fatalf("NewRecognitionEngine: %v", err)
	}
	defer e.Close()
	if e.Kind() != stt.KindMock {
		t.Errorf("Kind() = %s, want mock", e.Kind())
	}
	if e.AuthorizationStatus() != stt.Authorized {
		t.Errorf("AuthorizationStatus() = %v", e.AuthorizationStatus())
	}

	if _, err := NewRecognitionEngine(reg, WithRecognitionMetrics(m)); !errors.Is(err, ErrBackendNotRegistered) {
		t.Errorf("default kind error = %v, want ErrBackendNotRegistered", err)
	}
}
