// Package coqui renders speech with a locally running Coqui TTS server. It
// is the offline "system" backend and the designated fallback for every other
// synthesis backend.
//
// Two server APIs are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters; voices come from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body; voices come from
//     GET /studio_speakers.
//
// Both servers answer with a complete WAV file per request. The renderer
// decodes it to mono 16-bit PCM at a fixed output rate.
//
// Typical usage:
//
//	r, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	synth, err := playback.New(r, player)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/playback"
)

var _ playback.Renderer = (*Renderer)(nil)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultSampleRate = 22050

	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
)

// APIMode selects which Coqui server API the renderer targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server. It is the
	// default.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Renderer.
type Option func(*Renderer)

// WithLanguage sets the language code sent to the server (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Renderer) { r.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(r *Renderer) { r.httpClient.Timeout = d }
}

// WithAPIMode selects the server API.
func WithAPIMode(mode APIMode) Option {
	return func(r *Renderer) { r.apiMode = mode }
}

// WithSampleRate sets the rate of the PCM returned by Render. Server output
// is resampled to it. Defaults to 22050 Hz, the native rate of most Coqui
// models.
func WithSampleRate(rate int) Option {
	return func(r *Renderer) {
		if rate > 0 {
			r.sampleRate = rate
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Renderer) { r.httpClient = c }
}

// Renderer implements playback.Renderer against a Coqui TTS server. It is
// safe for concurrent use.
//
// Coqui servers expose no speed or pitch control; Config.Rate is ignored
// here and pitch is applied by the player.
type Renderer struct {
	serverURL  string
	language   string
	apiMode    APIMode
	sampleRate int
	httpClient *http.Client
}

// New creates a Renderer for the server at serverURL (e.g.,
// "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Renderer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	r := &Renderer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	switch r.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", r.apiMode)
	}
	return r, nil
}

// SampleRate implements playback.Renderer.
func (r *Renderer) SampleRate() int { return r.sampleRate }

// Render implements playback.Renderer.
func (r *Renderer) Render(ctx context.Context, text string, voice tts.Voice, _ tts.Config) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if r.apiMode == APIModeXTTS {
		if voice.ID == "" {
			return nil, tts.NewVoiceNotAvailable("")
		}
		req, err = r.xttsRequest(ctx, text, voice)
	} else {
		req, err = r.standardRequest(ctx, text, voice)
	}
	if err != nil {
		return nil, tts.NewUnknown(err.Error())
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := r.do(req)
	if err != nil {
		return nil, err
	}
	pcm, _, err := audio.DecodeWAV(wav, r.sampleRate)
	if err != nil {
		return nil, tts.NewUnknown("coqui: " + err.Error())
	}
	return pcm, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (r *Renderer) xttsRequest(ctx context.Context, text string, voice tts.Voice) (*http.Request, error) {
	lang := r.language
	if voice.Language != "" {
		lang = voice.Language
	}
	data, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: voice.ID, Language: lang})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (r *Renderer) standardRequest(ctx context.Context, text string, voice tts.Voice) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if r.language != "" {
		params.Set("language_id", r.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

// do executes req and returns the body of a 200 response. Failures are
// classified into *tts.Error values.
func (r *Renderer) do(req *http.Request) ([]byte, error) {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, tts.FromTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.FromTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, tts.FromHTTPStatus(resp.StatusCode, fmt.Sprintf("coqui %s %s", req.Method, req.URL.Path))
	}
	return body, nil
}

// studioSpeakersResponse maps voice names to speaker embeddings. Only the keys
// matter here.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is empty for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Voices implements playback.Renderer.
//
// In APIModeXTTS each studio speaker is a voice. In APIModeStandard a
// multi-speaker model yields one voice per speaker and a single-speaker model
// yields one voice named after the model.
func (r *Renderer) Voices(ctx context.Context) ([]tts.Voice, error) {
	if r.apiMode == APIModeXTTS {
		return r.voicesXTTS(ctx)
	}
	return r.voicesStandard(ctx)
}

func (r *Renderer) voicesXTTS(ctx context.Context) ([]tts.Voice, error) {
	body, err := r.getJSON(ctx, studioSpeakersEndpoint)
	if err != nil {
		return nil, err
	}
	var raw studioSpeakersResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, tts.NewUnknown("coqui: decode studio speakers: " + err.Error())
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	voices := make([]tts.Voice, 0, len(names))
	for _, name := range names {
		voices = append(voices, tts.Voice{ID: name, Name: name, Language: r.language})
	}
	return voices, nil
}

func (r *Renderer) voicesStandard(ctx context.Context) ([]tts.Voice, error) {
	body, err := r.getJSON(ctx, detailsEndpoint)
	if err != nil {
		return nil, err
	}
	var details detailsResponse
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, tts.NewUnknown("coqui: decode details: " + err.Error())
	}

	lang := details.Language
	if lang == "" {
		lang = r.language
	}
	if len(details.Speakers) > 0 {
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)
		voices := make([]tts.Voice, 0, len(speakers))
		for _, spk := range speakers {
			voices = append(voices, tts.Voice{ID: spk, Name: spk, Language: lang})
		}
		return voices, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.Voice{{ID: name, Name: name, Language: lang}}, nil
}

func (r *Renderer) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.serverURL+endpoint, nil)
	if err != nil {
		return nil, tts.NewUnknown("coqui: create request: " + err.Error())
	}
	req.Header.Set("Accept", "application/json")
	return r.do(req)
}

// Ping checks that the server answers its voice catalogue endpoint.
func (r *Renderer) Ping(ctx context.Context) error {
	endpoint := detailsEndpoint
	if r.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}
	_, err := r.getJSON(ctx, endpoint)
	return err
}
