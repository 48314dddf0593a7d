package openai

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

type speechRequest struct {
	Input          string  `json:"input"`
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func newTestRenderer(t *testing.T, h http.HandlerFunc, opts ...Option) *Renderer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL + "/v1/"), WithMaxRetries(0)}, opts...)
	r, err := New("sk-test", "", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk", "", WithDefaultVoice("darth")); err == nil {
		t.Error("expected error for unknown default voice")
	}
	r, err := New("sk", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.model != DefaultModel {
		t.Errorf("model = %q, want %q", r.model, DefaultModel)
	}
	if r.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d, want 24000", r.SampleRate())
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	var got speechRequest
	r := newTestRenderer(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/v1/audio/speech" {
			t.Errorf("path = %q", req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write([]byte{1, 2, 3, 4, 5})
	})

	cfg := tts.DefaultConfig()
	cfg.Rate = 1
	pcm, err := r.Render(context.Background(), "Good evening.", tts.Voice{ID: "nova"}, cfg)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(pcm) != 4 {
		t.Errorf("pcm length = %d, want 4 (odd trailing byte dropped)", len(pcm))
	}
	want := speechRequest{Input: "Good evening.", Model: string(DefaultModel), Voice: "nova", ResponseFormat: "pcm", Speed: 4}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestSpeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want float64
	}{
		{rate: -1, want: 0.25},
		{rate: 0, want: 0.25},
		{rate: 0.25, want: 0.5},
		{rate: 0.5, want: 1},
		{rate: 0.75, want: 2},
		{rate: 1, want: 4},
		{rate: 3, want: 4},
	}
	for _, tt := range tests {
		if got := Speed(tt.rate); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Speed(%v) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestRender_DefaultAndUnknownVoice(t *testing.T) {
	t.Parallel()

	var voice string
	r := newTestRenderer(t, func(w http.ResponseWriter, req *http.Request) {
		var body speechRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		voice = body.Voice
		_, _ = w.Write([]byte{0, 0})
	}, WithDefaultVoice("sage"))

	if _, err := r.Render(context.Background(), "hi", tts.Voice{}, tts.DefaultConfig()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if voice != "sage" {
		t.Errorf("voice = %q, want sage", voice)
	}

	_, err := r.Render(context.Background(), "hi", tts.Voice{ID: "darth"}, tts.DefaultConfig())
	var te *tts.Error
	if !errors.As(err, &te) || te.Kind != tts.VoiceNotAvailable || te.Detail != "darth" {
		t.Fatalf("Render with unknown voice = %v, want voiceNotAvailable(darth)", err)
	}
}

func TestRender_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   *tts.Error
	}{
		{status: http.StatusUnauthorized, want: tts.ErrAuthenticationFailed},
		{status: http.StatusTooManyRequests, want: tts.ErrRateLimitExceeded},
		{status: http.StatusBadRequest, want: tts.ErrUnknown},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			r := newTestRenderer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			})
			_, err := r.Render(context.Background(), "hi", tts.Voice{}, tts.DefaultConfig())
			if !errors.Is(err, tc.want) {
				t.Fatalf("Render = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestVoices(t *testing.T) {
	t.Parallel()

	r, _ := New("sk", "")
	voices, err := r.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != len(builtinVoices) || voices[0].ID != "alloy" {
		t.Errorf("Voices = %+v", voices)
	}
}
