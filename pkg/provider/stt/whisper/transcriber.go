// Package whisper provides a whisper.cpp recognition backend for the native
// speech adapter.
//
// whisper.cpp is a batch engine. A task buffers captured audio, re-runs
// inference over the utterance so far to produce partial hypotheses, and
// commits a final result once an energy-based detector sees enough trailing
// silence. Inference is delegated to a Transcriber: either the in-process
// CGO bindings (ModelTranscriber) or a running whisper-server
// (ServerTranscriber).
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/parley/pkg/audio"
)

// Transcriber runs batch inference over 16 kHz mono samples.
type Transcriber interface {
	// Transcribe returns the text spoken in samples.
	Transcribe(ctx context.Context, samples []int16, language string) (string, error)

	// Supports reports whether language can be recognised.
	Supports(language string) bool

	// Available reports whether inference can run right now.
	Available() bool
}

// ---- in-process model -------------------------------------------------------

// ModelTranscriber runs whisper.cpp in-process through the CGO bindings. The
// whisper.cpp static library and headers must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once and shared; each inference creates its own
// context. Inference is serialised since whisper.cpp saturates the CPU on its
// own.
type ModelTranscriber struct {
	mu    sync.Mutex
	model whisperlib.Model
}

var _ Transcriber = (*ModelTranscriber)(nil)

// LoadModel loads the ggml model file at path.
func LoadModel(path string) (*ModelTranscriber, error) {
	if path == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	return &ModelTranscriber{model: model}, nil
}

// Supports implements Transcriber. English-only models accept only "en".
func (m *ModelTranscriber) Supports(language string) bool {
	if !m.model.IsMultilingual() {
		return language == "en"
	}
	return slices.Contains(m.model.Languages(), language)
}

// Available implements Transcriber.
func (m *ModelTranscriber) Available() bool { return m.model != nil }

// Transcribe implements Transcriber.
func (m *ModelTranscriber) Transcribe(ctx context.Context, samples []int16, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}
	if err := wctx.Process(audio.Int16ToFloat32(samples), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the model.
func (m *ModelTranscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	return err
}

// ---- whisper-server ---------------------------------------------------------

// ServerTranscriber posts utterances to a whisper.cpp server's /inference
// endpoint as WAV uploads.
type ServerTranscriber struct {
	serverURL  string
	model      string
	languages  []string
	httpClient *http.Client
}

var _ Transcriber = (*ServerTranscriber)(nil)

// ServerOption configures a ServerTranscriber.
type ServerOption func(*ServerTranscriber)

// WithServerModel sets the model identifier forwarded to the server (e.g.,
// "base.en"). When empty the server uses whichever model it was started with.
func WithServerModel(model string) ServerOption {
	return func(s *ServerTranscriber) { s.model = model }
}

// WithServerLanguages restricts the languages reported by Supports. By
// default every language is accepted.
func WithServerLanguages(langs ...string) ServerOption {
	return func(s *ServerTranscriber) { s.languages = langs }
}

// WithServerHTTPClient replaces the HTTP client.
func WithServerHTTPClient(c *http.Client) ServerOption {
	return func(s *ServerTranscriber) { s.httpClient = c }
}

// NewServer returns a ServerTranscriber for the server at serverURL.
func NewServer(serverURL string, opts ...ServerOption) (*ServerTranscriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &ServerTranscriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Supports implements Transcriber.
func (s *ServerTranscriber) Supports(language string) bool {
	return len(s.languages) == 0 || slices.Contains(s.languages, language)
}

// Available implements Transcriber by probing the server root.
func (s *ServerTranscriber) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Transcribe implements Transcriber.
func (s *ServerTranscriber) Transcribe(ctx context.Context, samples []int16, language string) (string, error) {
	wav := audio.EncodeWAV(audio.Int16ToBytes(samples), sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
