package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/journal"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000

	// maxBodyBytes caps request bodies of the control API.
	maxBodyBytes = 64 << 10
)

// routes builds the control API. Every route runs behind the tracing and
// metrics middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/speak", a.handleSpeak)
	mux.HandleFunc("POST /v1/speak/stop", a.handlePlayback(a.synth.Stop))
	mux.HandleFunc("POST /v1/speak/pause", a.handlePlayback(a.synth.Pause))
	mux.HandleFunc("POST /v1/speak/resume", a.handlePlayback(a.synth.Resume))

	mux.HandleFunc("POST /v1/listen/start", a.handleListenStart)
	mux.HandleFunc("POST /v1/listen/stop", a.handleListenStop)
	mux.HandleFunc("GET /v1/listen/result", a.handleListenResult)

	mux.HandleFunc("GET /v1/journal", a.handleJournal)

	health.New(a.readiness()...).Register(mux)
	mux.Handle("GET /metrics", observe.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// ─── Synthesis ───────────────────────────────────────────────────────────────

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type speakResponse struct {
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

func (a *App) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, speakResponse{Backend: string(a.synth.Kind()), Error: err.Error()})
		return
	}

	backend, err := a.Say(r.Context(), req.Text, req.Voice)
	resp := speakResponse{Backend: string(backend)}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, speakStatus(err), resp)
}

// speakStatus maps a Speak outcome to an HTTP status. A stopped utterance is
// not a server failure: it answers 200 with the error set.
func speakStatus(err error) int {
	switch {
	case err == nil, errors.Is(err, tts.ErrCancelled):
		return http.StatusOK
	case errors.Is(err, tts.ErrInvalidText):
		return http.StatusBadRequest
	case errors.Is(err, tts.ErrVoiceNotAvailable):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

type playbackResponse struct {
	Backend string `json:"backend"`
	Playing bool   `json:"playing"`
	Paused  bool   `json:"paused"`
}

func (a *App) handlePlayback(op func()) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		op()
		writeJSON(w, http.StatusOK, playbackResponse{
			Backend: string(a.synth.Kind()),
			Playing: a.synth.IsPlaying(),
			Paused:  a.synth.IsPaused(),
		})
	}
}

// ─── Recognition ─────────────────────────────────────────────────────────────

type listenRequest struct {
	Locale string `json:"locale"`
}

type listenResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Backend   string    `json:"backend"`
	Locale    string    `json:"locale,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (a *App) handleListenStart(w http.ResponseWriter, r *http.Request) {
	var req listenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, listenResponse{Backend: string(a.rec.Kind()), Error: err.Error()})
		return
	}
	locale := req.Locale
	if locale == "" {
		locale = a.config().Recognition.Locale
	}

	// The session outlives the request that started it.
	id, err := a.StartListening(context.WithoutCancel(r.Context()), locale)
	if err != nil {
		writeJSON(w, listenStatus(err), listenResponse{Backend: string(a.rec.Kind()), Locale: locale, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, listenResponse{SessionID: id, Backend: string(a.rec.Kind()), Locale: locale})
}

func listenStatus(err error) int {
	switch {
	case errors.Is(err, stt.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, stt.ErrNotAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (a *App) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	a.StopListening()
	writeJSON(w, http.StatusOK, a.listenState())
}

type resultDTO struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type listenState struct {
	Listening bool       `json:"listening"`
	Partial   string     `json:"partial"`
	Final     *resultDTO `json:"final"`
	Error     string     `json:"error,omitempty"`
}

func (a *App) handleListenResult(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.listenState())
}

func (a *App) listenState() listenState {
	st := listenState{
		Listening: a.rec.IsListening(),
		Partial:   a.rec.PartialTranscription(),
	}
	if res, ok := a.rec.LastResult(); ok {
		st.Final = &resultDTO{Text: res.Text, Confidence: res.Confidence, Timestamp: res.Timestamp}
	}
	if err := a.rec.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// ─── Journal ─────────────────────────────────────────────────────────────────

type entryDTO struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Kind       string    `json:"kind"`
	Backend    string    `json:"backend"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func toEntryDTO(e journal.Entry) entryDTO {
	return entryDTO{
		ID:         e.ID,
		SessionID:  e.SessionID,
		Kind:       string(e.Kind),
		Backend:    e.Backend,
		Text:       e.Text,
		Confidence: e.Confidence,
		Status:     e.Status,
		Error:      e.Error,
		DurationMS: e.Duration.Milliseconds(),
		Timestamp:  e.Timestamp,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxJournalLimit {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "limit must be an integer between 1 and " + strconv.Itoa(maxJournalLimit),
			})
			return
		}
		limit = n
	}

	entries, err := a.journal.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Warn("journal read failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// decodeBody decodes a JSON request body into v. An empty body leaves v at
// its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
