package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/native"
)

type fakeRenderer struct {
	mu       sync.Mutex
	failOn   string
	err      error
	rendered []string
	voices   []tts.Voice
	voiceErr error
	listed   int
}

func (r *fakeRenderer) Render(_ context.Context, text string, _ tts.Voice, _ tts.Config) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && strings.Contains(text, r.failOn) {
		return nil, r.err
	}
	r.rendered = append(r.rendered, text)
	samples := make([]int16, len(text))
	for i := range samples {
		samples[i] = 1000
	}
	return audio.Int16ToBytes(samples), nil
}

func (r *fakeRenderer) SampleRate() int { return 16000 }

func (r *fakeRenderer) Voices(context.Context) ([]tts.Voice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listed++
	return r.voices, r.voiceErr
}

type fakePlayer struct {
	mu      sync.Mutex
	played  [][]byte
	rates   []int
	block   chan struct{}
	playErr error
	paused  bool
}

func (p *fakePlayer) Play(ctx context.Context, pcm []byte, rate int) error {
	p.mu.Lock()
	p.played = append(p.played, pcm)
	p.rates = append(p.rates, rate)
	block, err := p.block, p.playErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *fakePlayer) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return true
}

func (p *fakePlayer) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return true
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

// recorder is a native.Delegate that records notifications as strings.
type recorder struct {
	mu    sync.Mutex
	calls []string
	err   error
	done  chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{})} }

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) DidStart()                   { r.add("start") }
func (r *recorder) WillSpeakRange(start, n int) { r.add(fmt.Sprintf("range %d+%d", start, n)) }
func (r *recorder) DidPause()                   { r.add("pause") }
func (r *recorder) DidContinue()                { r.add("continue") }

func (r *recorder) DidFinish() {
	r.add("finish")
	close(r.done)
}

func (r *recorder) DidCancel() {
	r.add("cancel")
	close(r.done)
}

func (r *recorder) DidFail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.add("fail")
	close(r.done)
}

func (r *recorder) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("utterance did not finish")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want []Segment
	}{
		{text: "", want: nil},
		{text: "   ", want: nil},
		{text: "Hello there", want: []Segment{{Text: "Hello there", Start: 0, Length: 11}}},
		{
			text: "Hi. How are you? Fine!",
			want: []Segment{
				{Text: "Hi.", Start: 0, Length: 3},
				{Text: "How are you?", Start: 4, Length: 12},
				{Text: "Fine!", Start: 17, Length: 5},
			},
		},
		{text: "Pi is 3.14 today.", want: []Segment{{Text: "Pi is 3.14 today.", Start: 0, Length: 17}}},
		{
			text: "line one\nline two",
			want: []Segment{{Text: "line one", Start: 0, Length: 8}, {Text: "line two", Start: 9, Length: 8}},
		},
		{
			text: "Grüße. Tschüß",
			want: []Segment{{Text: "Grüße.", Start: 0, Length: 6}, {Text: "Tschüß", Start: 7, Length: 6}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			got := Segments(tc.text)
			if len(got) != len(tc.want) {
				t.Fatalf("Segments(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("segment %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func newSynth(t *testing.T, r *fakeRenderer, p *fakePlayer) *Synthesizer {
	t.Helper()
	s, err := New(r, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakePlayer{}); err == nil {
		t.Error("expected error for nil renderer")
	}
	if _, err := New(&fakeRenderer{}, nil); err == nil {
		t.Error("expected error for nil player")
	}
}

func TestSpeak_DelegateOrder(t *testing.T) {
	t.Parallel()

	r, p := &fakeRenderer{}, &fakePlayer{}
	s := newSynth(t, r, p)
	rec := newRecorder()

	u := native.Utterance{Text: "One. Two three.", Config: tts.DefaultConfig()}
	if err := s.Speak(u, rec); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	got := rec.wait(t)
	want := []string{"start", "range 0+4", "range 5+10", "finish"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("delegate calls = %v, want %v", got, want)
	}
	if p.playCount() != 2 {
		t.Errorf("played %d chunks, want 2", p.playCount())
	}
}

func TestSpeak_VolumeAndPitch(t *testing.T) {
	t.Parallel()

	r, p := &fakeRenderer{}, &fakePlayer{}
	s := newSynth(t, r, p)
	rec := newRecorder()

	cfg := tts.Config{Rate: 0.5, PitchMultiplier: 1.5, Volume: 0.5}
	if err := s.Speak(native.Utterance{Text: "hey", Config: cfg}, rec); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	rec.wait(t)

	samples := audio.BytesToInt16(p.played[0])
	if samples[0] != 500 {
		t.Errorf("sample after gain = %d, want 500", samples[0])
	}
	if p.rates[0] != 24000 {
		t.Errorf("play rate = %d, want 24000", p.rates[0])
	}
}

func TestSpeak_RendererFailure(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{failOn: "Two", err: tts.ErrRateLimitExceeded}
	s := newSynth(t, r, &fakePlayer{})
	rec := newRecorder()

	if err := s.Speak(native.Utterance{Text: "One. Two.", Config: tts.DefaultConfig()}, rec); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	got := rec.wait(t)
	if got[len(got)-1] != "fail" {
		t.Fatalf("delegate calls = %v, want trailing fail", got)
	}
	if !errors.Is(rec.err, tts.ErrRateLimitExceeded) {
		t.Errorf("failure = %v, want rateLimitExceeded", rec.err)
	}
}

func TestSpeak_PlayerFailureIsPlaybackFailed(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{playErr: errors.New("device unplugged")}
	s := newSynth(t, &fakeRenderer{}, p)
	rec := newRecorder()

	if err := s.Speak(native.Utterance{Text: "hello", Config: tts.DefaultConfig()}, rec); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	rec.wait(t)
	var te *tts.Error
	if !errors.As(rec.err, &te) || te.Kind != tts.PlaybackFailed {
		t.Fatalf("failure = %v, want playbackFailed", rec.err)
	}
}

func TestStop_Cancels(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{block: make(chan struct{})}
	s := newSynth(t, &fakeRenderer{}, p)
	rec := newRecorder()

	if err := s.Speak(native.Utterance{Text: "a long sentence", Config: tts.DefaultConfig()}, rec); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.playCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("playback never started")
		}
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	got := rec.wait(t)
	if got[len(got)-1] != "cancel" {
		t.Fatalf("delegate calls = %v, want trailing cancel", got)
	}
	s.Stop() // idempotent
}

func TestSpeak_BlankSegmentsRejected(t *testing.T) {
	t.Parallel()

	s := newSynth(t, &fakeRenderer{}, &fakePlayer{})
	if err := s.Speak(native.Utterance{Text: " \n "}, newRecorder()); !errors.Is(err, tts.ErrInvalidText) {
		t.Fatalf("Speak = %v, want invalidText", err)
	}
}

func TestResolveVoice(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{voices: []tts.Voice{{ID: "v1", Name: "First"}}}
	s := newSynth(t, r, &fakePlayer{})
	ctx := context.Background()

	v, err := s.ResolveVoice(ctx, "v1")
	if err != nil || v.Name != "First" {
		t.Fatalf("ResolveVoice(v1) = %+v, %v", v, err)
	}
	if _, err := s.ResolveVoice(ctx, "v2"); !errors.Is(err, tts.ErrVoiceNotAvailable) {
		t.Fatalf("ResolveVoice(v2) = %v, want voiceNotAvailable", err)
	}
	if r.listed != 1 {
		t.Errorf("voices listed %d times, want 1 (cached)", r.listed)
	}
}

func TestResolveVoice_ListError(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{voiceErr: tts.ErrNetworkUnavailable}
	s := newSynth(t, r, &fakePlayer{})
	if _, err := s.ResolveVoice(context.Background(), "v1"); !errors.Is(err, tts.ErrNetworkUnavailable) {
		t.Fatalf("ResolveVoice = %v, want networkUnavailable", err)
	}
}

func TestPauseContinueDelegateToPlayer(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	s := newSynth(t, &fakeRenderer{}, p)
	if !s.Pause() || !p.paused {
		t.Fatal("Pause did not reach player")
	}
	if !s.Continue() || p.paused {
		t.Fatal("Continue did not reach player")
	}
}
