// Package openai renders speech with the OpenAI audio speech endpoint. It
// implements playback.Renderer and always requests raw 24 kHz PCM.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/playback"
)

// DefaultModel is the default speech model.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// DefaultVoice is used when Render receives the zero Voice.
const DefaultVoice = "alloy"

// pcmSampleRate is the fixed rate of the "pcm" response format.
const pcmSampleRate = 24000

// Bounds of the endpoint's speed parameter.
const (
	minSpeed = 0.25
	maxSpeed = 4.0
)

// builtinVoices is the catalogue the speech endpoint accepts.
var builtinVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable",
	"nova", "onyx", "sage", "shimmer", "verse",
}

var _ playback.Renderer = (*Renderer)(nil)

// Renderer implements playback.Renderer using the OpenAI API.
type Renderer struct {
	client oai.Client
	model  oai.SpeechModel
	voice  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	voice      string
	maxRetries int
}

// Option is a functional option for Renderer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDefaultVoice sets the voice used for the zero Voice.
func WithDefaultVoice(v string) Option {
	return func(c *config) { c.voice = v }
}

// WithMaxRetries sets how often the client retries retryable failures.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a Renderer. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Renderer, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = string(DefaultModel)
	}

	cfg := &config{voice: DefaultVoice, maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}
	if !slices.Contains(builtinVoices, cfg.voice) {
		return nil, fmt.Errorf("openai tts: unknown default voice %q", cfg.voice)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Renderer{
		client: oai.NewClient(reqOpts...),
		model:  oai.SpeechModel(model),
		voice:  cfg.voice,
	}, nil
}

// SampleRate implements playback.Renderer.
func (r *Renderer) SampleRate() int { return pcmSampleRate }

// Render implements playback.Renderer. Config.Rate maps onto the endpoint's
// speed parameter, see [Speed].
func (r *Renderer) Render(ctx context.Context, text string, voice tts.Voice, cfg tts.Config) ([]byte, error) {
	id := voice.ID
	if id == "" {
		id = r.voice
	}
	if !slices.Contains(builtinVoices, id) {
		return nil, tts.NewVoiceNotAvailable(id)
	}

	resp, err := r.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          r.model,
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          param.NewOpt(Speed(cfg.Rate)),
	})
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.FromTransport(err)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}

// Voices implements playback.Renderer. The catalogue is static.
func (r *Renderer) Voices(context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		voices = append(voices, tts.Voice{ID: v, Name: v})
	}
	return voices, nil
}

// classify maps client errors onto *tts.Error values.
func classify(err error) *tts.Error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return tts.FromHTTPStatus(apiErr.StatusCode, apiErr.Message)
	}
	return tts.FromTransport(err)
}

// Speed maps a rate in [0, 1] onto the endpoint's full speed range on a
// log scale: 0 → 0.25x, 0.5 → 1x, 1 → 4x.
func Speed(rate float64) float64 {
	if math.IsNaN(rate) {
		return 1
	}
	r := min(max(rate, tts.MinRate), tts.MaxRate)
	return min(max(math.Pow(maxSpeed, 2*r-1), minSpeed), maxSpeed)
}
