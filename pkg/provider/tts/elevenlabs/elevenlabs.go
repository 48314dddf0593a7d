// Package elevenlabs renders speech with the ElevenLabs streaming WebSocket
// API. It implements playback.Renderer; pair it with a player through
// playback.New to obtain a synthesis backend.
//
// Every Render call opens one stream-input WebSocket, sends the sentence,
// flushes, and collects base64 PCM frames until the server marks the stream
// final. Calls go through a circuit breaker so that a failing account or
// network stops hammering the API and callers fall back quickly.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/playback"
)

var _ playback.Renderer = (*Renderer)(nil)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	streamPathFmt = "/v1/text-to-speech/%s/stream-input"
	voicesPath    = "/v1/voices"

	// ElevenLabs accepts voice speeds in [0.7, 1.2].
	minSpeed = 0.7
	maxSpeed = 1.2
)

// Option is a functional option for configuring a Renderer.
type Option func(*Renderer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(r *Renderer) { r.model = model }
}

// WithOutputFormat sets the PCM output format ("pcm_16000", "pcm_22050",
// "pcm_24000" or "pcm_44100").
func WithOutputFormat(format string) Option {
	return func(r *Renderer) { r.outputFormat = format }
}

// WithDefaultVoice sets the voice used when Render receives the zero Voice.
func WithDefaultVoice(id string) Option {
	return func(r *Renderer) { r.defaultVoice = id }
}

// WithBaseURL points the renderer at a different API host. Used by tests.
func WithBaseURL(u string) Option {
	return func(r *Renderer) { r.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Renderer) { r.httpClient = c }
}

// WithCircuitBreaker replaces the default breaker configuration.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Renderer) { r.breaker = newBreaker(cfg) }
}

// Renderer implements playback.Renderer against ElevenLabs.
type Renderer struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
	baseURL      string
	sampleRate   int
	httpClient   *http.Client
	breaker      *resilience.CircuitBreaker
}

// New creates a Renderer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Renderer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	r := &Renderer{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(r)
	}
	rate, err := parseOutputFormat(r.outputFormat)
	if err != nil {
		return nil, err
	}
	r.sampleRate = rate
	if r.breaker == nil {
		r.breaker = newBreaker(resilience.CircuitBreakerConfig{
			Name:         "elevenlabs",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		})
	}
	return r, nil
}

// newBreaker builds a breaker that does not hold caller cancellation
// against the backend.
func newBreaker(cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	if cfg.Ignore == nil {
		cfg.Ignore = func(err error) bool { return errors.Is(err, tts.ErrCancelled) }
	}
	return resilience.NewCircuitBreaker(cfg)
}

// parseOutputFormat extracts the sample rate from a "pcm_<rate>" format.
func parseOutputFormat(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", format)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid sample rate in output format %q", format)
	}
	return n, nil
}

// SampleRate implements playback.Renderer.
func (r *Renderer) SampleRate() int { return r.sampleRate }

// ---- WebSocket message types ----

// textMessage is the JSON payload sent for each text fragment. An empty Text
// closes the input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is a message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Render implements playback.Renderer.
func (r *Renderer) Render(ctx context.Context, text string, voice tts.Voice, cfg tts.Config) ([]byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = r.defaultVoice
	}
	if voiceID == "" {
		return nil, tts.NewVoiceNotAvailable("")
	}

	var pcm []byte
	err := r.breaker.Execute(func() error {
		var err error
		pcm, err = r.stream(ctx, text, voiceID, cfg)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, tts.NewProviderNotAvailable(tts.KindElevenLabs)
	}
	if err != nil {
		return nil, tts.AsError(err)
	}
	if ctx.Err() != nil {
		return nil, tts.ErrCancelled
	}
	return pcm, nil
}

func (r *Renderer) stream(ctx context.Context, text, voiceID string, cfg tts.Config) ([]byte, error) {
	conn, resp, err := websocket.Dial(ctx, r.streamURL(voiceID), &websocket.DialOptions{
		HTTPClient: r.httpClient,
		HTTPHeader: http.Header{"xi-api-key": []string{r.apiKey}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, tts.FromHTTPStatus(resp.StatusCode, "elevenlabs dial")
		}
		return nil, tts.FromTransport(err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 22)

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: speedFor(cfg)}
	msgs := []any{
		boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: r.apiKey},
		textMessage{Text: text + " ", Flush: true},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, tts.NewUnknown("elevenlabs: marshal: " + err.Error())
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return nil, tts.FromTransport(err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return nil, tts.ErrCancelled
			}
			return nil, tts.FromTransport(err)
		}
		var msg audioResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return nil, classifyStreamError(msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, tts.NewUnknown("elevenlabs: decode audio: " + err.Error())
			}
			pcm = append(pcm, chunk...)
		}
		if msg.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return pcm, nil
}

func (r *Renderer) streamURL(voiceID string) string {
	u := r.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{}
	q.Set("model_id", r.model)
	q.Set("output_format", r.outputFormat)
	return u + fmt.Sprintf(streamPathFmt, url.PathEscape(voiceID)) + "?" + q.Encode()
}

// speedFor maps the configured rate onto the speed range ElevenLabs accepts.
func speedFor(cfg tts.Config) float64 {
	return min(max(cfg.SpeedFactor(), minSpeed), maxSpeed)
}

// classifyStreamError maps an in-band error frame to a *tts.Error.
func classifyStreamError(code, message string) *tts.Error {
	lc := strings.ToLower(code)
	switch {
	case strings.Contains(lc, "auth") || strings.Contains(lc, "api_key"):
		return tts.ErrAuthenticationFailed
	case strings.Contains(lc, "quota") || strings.Contains(lc, "rate") || strings.Contains(lc, "too_many"):
		return tts.ErrRateLimitExceeded
	case strings.Contains(lc, "voice"):
		return tts.NewVoiceNotAvailable(message)
	default:
		return tts.NewUnknown("elevenlabs: " + code + ": " + message)
	}
}

// ---- Voices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

type elevenLabsVoice struct {
	VoiceID string            `json:"voice_id"`
	Name    string            `json:"name"`
	Labels  map[string]string `json:"labels"`
}

// Voices implements playback.Renderer.
func (r *Renderer) Voices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+voicesPath, nil)
	if err != nil {
		return nil, tts.NewUnknown("elevenlabs: list voices: " + err.Error())
	}
	req.Header.Set("xi-api-key", r.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, tts.FromTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, tts.FromHTTPStatus(resp.StatusCode, "elevenlabs list voices")
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, tts.NewUnknown("elevenlabs: list voices decode: " + err.Error())
	}
	return toVoices(vr), nil
}

func toVoices(vr voicesResponse) []tts.Voice {
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: v.Labels["language"],
		})
	}
	return voices
}
