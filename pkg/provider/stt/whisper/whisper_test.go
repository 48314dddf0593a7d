package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt/native"
)

// fakeTranscriber returns scripted texts in order, repeating the last one.
type fakeTranscriber struct {
	mu     sync.Mutex
	texts  []string
	err    error
	calls  int
	langs  []string
	sizes  []int
	noLang bool
}

func (f *fakeTranscriber) Transcribe(_ context.Context, samples []int16, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.langs = append(f.langs, language)
	f.sizes = append(f.sizes, len(samples))
	if f.err != nil {
		return "", f.err
	}
	i := min(f.calls-1, len(f.texts)-1)
	return f.texts[i], nil
}

func (f *fakeTranscriber) Supports(string) bool { return !f.noLang }
func (f *fakeTranscriber) Available() bool      { return true }

// chunk returns 100 ms of audio at the given amplitude.
func chunk(amp int16) []int16 {
	s := make([]int16, sampleRate/10)
	for i := range s {
		if i%2 == 0 {
			s[i] = amp
		} else {
			s[i] = -amp
		}
	}
	return s
}

func startTask(t *testing.T, tr Transcriber) (native.Task, <-chan native.Callback) {
	t.Helper()
	factory := Factory(tr,
		WithPartialInterval(100*time.Millisecond),
		WithSilenceThreshold(200*time.Millisecond),
		WithMaxUtterance(time.Second),
	)
	rec, err := factory("en-US")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if !rec.Available() {
		t.Fatal("recognizer not available")
	}
	out := make(chan native.Callback, 16)
	task, err := rec.Start(context.Background(), func(cb native.Callback) { out <- cb })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(task.Cancel)
	return task, out
}

func next(t *testing.T, ch <-chan native.Callback) native.Callback {
	t.Helper()
	select {
	case cb := <-ch:
		return cb
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return native.Callback{}
	}
}

func TestLanguage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"en-US": "en",
		"de_DE": "de",
		"FR":    "fr",
		"":      "",
	}
	for in, want := range tests {
		if got := Language(in); got != want {
			t.Errorf("Language(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFactory_UnsupportedLanguage(t *testing.T) {
	t.Parallel()

	if _, err := Factory(&fakeTranscriber{noLang: true})("xx-YY"); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestTask_PartialThenFinalOnSilence(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{texts: []string{"hello", "hello world"}}
	task, out := startTask(t, tr)

	task.Append(chunk(0)) // leading silence is dropped
	task.Append(chunk(2000))

	cb := next(t, out)
	if cb.IsFinal || cb.Text != "hello" || cb.Err != nil {
		t.Fatalf("first callback = %+v, want partial %q", cb, "hello")
	}

	task.Append(chunk(0))
	task.Append(chunk(0))

	cb = next(t, out)
	if !cb.IsFinal || cb.Text != "hello world" {
		t.Fatalf("second callback = %+v, want final %q", cb, "hello world")
	}
	if cb.Confidence != defaultFinalConfidence {
		t.Errorf("confidence = %v, want %v", cb.Confidence, defaultFinalConfidence)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.langs[0] != "en" {
		t.Errorf("language = %q, want en", tr.langs[0])
	}
	// The final pass covers the speech plus its trailing silence.
	if tr.sizes[1] != 3*sampleRate/10 {
		t.Errorf("final pass samples = %d, want %d", tr.sizes[1], 3*sampleRate/10)
	}
}

func TestTask_UnchangedPartialNotRepeated(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{texts: []string{"same", "same", "done"}}
	task, out := startTask(t, tr)

	task.Append(chunk(2000))
	task.Append(chunk(2000))
	task.Append(chunk(0))
	task.Append(chunk(0))

	if cb := next(t, out); cb.IsFinal || cb.Text != "same" {
		t.Fatalf("first callback = %+v, want partial %q", cb, "same")
	}
	if cb := next(t, out); !cb.IsFinal || cb.Text != "done" {
		t.Fatalf("second callback = %+v, want final %q", cb, "done")
	}
}

func TestTask_EndAudioCommits(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{texts: []string{"bye"}}
	rec, err := Factory(tr, WithPartialInterval(time.Hour))("en")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	out := make(chan native.Callback, 4)
	task, _ := rec.Start(context.Background(), func(cb native.Callback) { out <- cb })
	task.Append(chunk(2000))
	task.EndAudio()
	task.EndAudio()

	if cb := next(t, out); !cb.IsFinal || cb.Text != "bye" {
		t.Fatalf("callback = %+v, want final %q", cb, "bye")
	}
}

func TestTask_AppendAfterEndAudioReturns(t *testing.T) {
	t.Parallel()

	task, _ := startTask(t, &fakeTranscriber{texts: []string{"x"}})
	task.EndAudio()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// More than the audio queue holds.
		for range 1000 {
			task.Append(chunk(2000))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked after EndAudio")
	}
}

func TestTask_CancelReportsCanceled(t *testing.T) {
	t.Parallel()

	task, out := startTask(t, &fakeTranscriber{texts: []string{"x"}})
	task.Cancel()
	if cb := next(t, out); !errors.Is(cb.Err, native.ErrCanceled) {
		t.Fatalf("callback = %+v, want ErrCanceled", cb)
	}
}

func TestTask_TranscriberError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	task, out := startTask(t, &fakeTranscriber{err: boom})
	task.Append(chunk(2000))
	if cb := next(t, out); !errors.Is(cb.Err, boom) {
		t.Fatalf("callback = %+v, want boom", cb)
	}
}

func TestServerTranscriber(t *testing.T) {
	t.Parallel()

	var gotLang, gotModel string
	var gotSamples int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			return
		}
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotLang = r.FormValue("language")
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		wav, _ := io.ReadAll(f)
		info, err := audio.ParseWAV(wav)
		if err != nil || info.SampleRate != sampleRate {
			t.Errorf("ParseWAV: %+v, %v", info, err)
		}
		gotSamples = info.DataLength / 2
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  hi there "})
	}))
	defer srv.Close()

	st, err := NewServer(srv.URL+"/", WithServerModel("base"), WithServerLanguages("en", "de"))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if !st.Available() {
		t.Error("Available = false, want true")
	}
	if !st.Supports("de") || st.Supports("fr") {
		t.Error("Supports does not honour WithServerLanguages")
	}

	text, err := st.Transcribe(context.Background(), chunk(100), "de")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hi there" {
		t.Errorf("text = %q, want %q", text, "hi there")
	}
	if gotLang != "de" || gotModel != "base" {
		t.Errorf("language=%q model=%q", gotLang, gotModel)
	}
	if gotSamples != sampleRate/10 {
		t.Errorf("uploaded %d samples, want %d", gotSamples, sampleRate/10)
	}
}

func TestServerTranscriber_Failures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	st, _ := NewServer(srv.URL)
	if st.Available() {
		t.Error("Available = true for failing server")
	}
	if _, err := st.Transcribe(context.Background(), chunk(1), "en"); err == nil {
		t.Error("expected error for HTTP 500")
	}
	srv.Close()
	if st.Available() {
		t.Error("Available = true for closed server")
	}
	if _, err := NewServer(""); err == nil {
		t.Error("expected error for empty URL")
	}
}
