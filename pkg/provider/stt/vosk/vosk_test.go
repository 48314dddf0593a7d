package vosk

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt/native"
)

// fakeEngine replays scripted AcceptWaveform outcomes.
type fakeEngine struct {
	accept   []int
	partials []string
	results  []string
	final    string
	calls    int
}

func (f *fakeEngine) AcceptWaveform([]byte) int {
	i := f.calls
	f.calls++
	if i < len(f.accept) {
		return f.accept[i]
	}
	return 0
}

func (f *fakeEngine) PartialResult() string {
	if len(f.partials) == 0 {
		return `{"partial":""}`
	}
	p := f.partials[0]
	f.partials = f.partials[1:]
	return p
}

func (f *fakeEngine) Result() string {
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func (f *fakeEngine) FinalResult() string { return f.final }

func runTask(eng engine) (*task, <-chan native.Callback) {
	out := make(chan native.Callback, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		engine:  eng,
		handler: func(cb native.Callback) { out <- cb },
		audio:   make(chan []int16, 16),
		end:     make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go t.loop()
	return t, out
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

func TestParseResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		doc      string
		wantOK   bool
		wantText string
		wantConf float64
	}{
		{name: "words", doc: `{"result":[{"word":"hello","conf":0.8},{"word":"there","conf":0.6}],"text":"hello there"}`, wantOK: true, wantText: "hello there", wantConf: 0.7},
		{name: "no words", doc: `{"text":"hi"}`, wantOK: true, wantText: "hi", wantConf: 1},
		{name: "empty", doc: `{"text":""}`},
		{name: "garbage", doc: `{`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cb, ok := parseResult(tc.doc)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if !cb.IsFinal || cb.Text != tc.wantText || math.Abs(cb.Confidence-tc.wantConf) > 1e-9 {
				t.Errorf("got %+v, want final %q conf %v", cb, tc.wantText, tc.wantConf)
			}
		})
	}
}

func TestParsePartial(t *testing.T) {
	t.Parallel()

	if got := parsePartial(`{"partial":" the quick "}`); got != "the quick" {
		t.Errorf("parsePartial = %q", got)
	}
	if got := parsePartial(`nope`); got != "" {
		t.Errorf("parsePartial(garbage) = %q", got)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	paths := map[string]string{
		"en-us": "/models/en",
		"de":    "/models/de",
		"fr-ca": "/models/fr",
	}
	tests := []struct {
		locale string
		want   string
		ok     bool
	}{
		{locale: "en-US", want: "/models/en", ok: true},
		{locale: "en_GB", want: "/models/en", ok: true},
		{locale: "de-AT", want: "/models/de", ok: true},
		{locale: "fr", want: "/models/fr", ok: true},
		{locale: "es-ES"},
	}
	for _, tc := range tests {
		got, ok := resolve(paths, tc.locale)
		if ok != tc.ok || got != tc.want {
			t.Errorf("resolve(%q) = %q, %v; want %q, %v", tc.locale, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewModelSet(t *testing.T) {
	t.Parallel()

	if _, err := NewModelSet(nil); err == nil {
		t.Error("expected error for empty model map")
	}
	if _, err := NewModelSet(map[string]string{"en": filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error for missing model directory")
	}

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "en"), 0o755); err != nil {
		t.Fatal(err)
	}
	ms, err := NewModelSet(map[string]string{"en_US": filepath.Join(dir, "en")})
	if err != nil {
		t.Fatalf("NewModelSet: %v", err)
	}
	if got := ms.Locales(); len(got) != 1 || got[0] != "en-us" {
		t.Errorf("Locales = %v", got)
	}
	if _, err := ms.Factory()("ja-JP"); err == nil {
		t.Error("expected error for locale without model")
	}
}

func TestTask_PartialsAndFinal(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		accept:   []int{0, 0, 0, 1},
		partials: []string{`{"partial":"good"}`, `{"partial":"good"}`, `{"partial":"good morning"}`},
		results:  []string{`{"text":"good morning","result":[{"word":"good","conf":1},{"word":"morning","conf":1}]}`},
	}
	tk, out := runTask(eng)
	defer tk.Cancel()

	for range 4 {
		tk.Append([]int16{1, 2})
	}
	if cb := next(t, out); cb.IsFinal || cb.Text != "good" {
		t.Fatalf("callback 1 = %+v", cb)
	}
	if cb := next(t, out); cb.IsFinal || cb.Text != "good morning" {
		t.Fatalf("callback 2 = %+v", cb)
	}
	if cb := next(t, out); !cb.IsFinal || cb.Text != "good morning" || cb.Confidence != 1 {
		t.Fatalf("callback 3 = %+v", cb)
	}
}

func TestTask_EndAudioFlushes(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{final: `{"text":"the end"}`}
	tk, out := runTask(eng)
	tk.Append([]int16{1})
	tk.EndAudio()
	tk.EndAudio()

	if cb := next(t, out); !cb.IsFinal || cb.Text != "the end" {
		t.Fatalf("callback = %+v", cb)
	}
	<-tk.done
	if eng.calls != 1 {
		t.Errorf("AcceptWaveform calls = %d, want 1", eng.calls)
	}
}

func TestTask_Cancel(t *testing.T) {
	t.Parallel()

	tk, out := runTask(&fakeEngine{})
	tk.Cancel()
	if cb := next(t, out); !errors.Is(cb.Err, native.ErrCanceled) {
		t.Fatalf("callback = %+v, want ErrCanceled", cb)
	}
	<-tk.done
	tk.Append([]int16{1}) // must not block after cancel
}
