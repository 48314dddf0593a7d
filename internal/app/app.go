// Package app wires the parley subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the backend registry,
// both speech engines, the transcript corrector and the journal; Run serves
// the HTTP control API until its context ends; Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithRegistry,
// WithJournal, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/journal"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/speech"
)

// journalTimeout bounds a single journal write made outside a request.
const journalTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	level   *slog.LevelVar
	metrics *observe.Metrics
	devices *Devices

	reg       *speech.Registry
	backends  *backends
	recProv   stt.Provider
	rec       *speech.RecognitionEngine
	synth     *speech.SynthesisEngine
	corrector *transcript.Corrector
	journal   journal.Store

	// listenMu serialises session starts and stops; sessionMu guards the ID
	// read by the final-result handler.
	listenMu  sync.Mutex
	sessionMu sync.Mutex
	sessionID uuid.UUID

	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces the built-in backends with reg.
func WithRegistry(reg *speech.Registry) Option {
	return func(a *App) { a.reg = reg }
}

// WithJournal injects a journal store instead of creating one from config.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.journal = s }
}

// WithMetrics sets the instruments shared by the engines and the HTTP
// middleware. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets configuration reloads change the level of the process
// logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithDevices overrides the audio endpoints of the built-in backends.
func WithDevices(d Devices) Option {
	return func(a *App) { a.devices = &d }
}

// New creates an App by wiring all subsystems together. It performs all
// initialisation synchronously; a failure releases whatever was already
// built.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	// ── 1. Backend registry ──────────────────────────────────────────────
	if a.reg == nil {
		dev := DefaultDevices()
		if a.devices != nil {
			dev = *a.devices
		}
		a.backends = &backends{cfg: cfg, dev: dev}
		a.reg = speech.NewRegistry()
		a.backends.register(a.reg)
		a.closers = append(a.closers, a.backends.close)
	}

	// ── 2. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 3. Synthesis engine ──────────────────────────────────────────────
	if err := a.initSynthesis(); err != nil {
		return nil, fmt.Errorf("app: init synthesis: %w", err)
	}

	// ── 4. Recognition engine + transcript correction ────────────────────
	if err := a.initRecognition(); err != nil {
		return nil, fmt.Errorf("app: init recognition: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.routes()

	slog.Info("app initialised",
		"recognition", a.rec.Kind(),
		"synthesis", a.synth.Kind(),
		"fallback", a.synth.FallbackEnabled(),
		"vocabulary", a.corrector.Vocabulary().Len(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initJournal(ctx context.Context) error {
	if a.journal == nil {
		if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
			store, err := journal.NewPostgresStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.journal = store
		} else {
			a.journal = journal.NewMemStore(a.cfg.Journal.Capacity)
		}
	}
	a.closers = append(a.closers, a.journal.Close)
	return nil
}

func (a *App) initSynthesis() error {
	syn := a.cfg.Synthesis
	synth, err := speech.NewSynthesisEngine(a.reg,
		speech.WithSynthesisKind(tts.Kind(syn.Backend)),
		speech.WithFallback(syn.FallbackEnabled),
		speech.WithFallbackKind(tts.Kind(syn.FallbackBackend)),
		speech.WithConfig(syn.TTSConfig()),
		speech.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.synth = synth
	// Engines close before the shared backend resources.
	a.closers = append([]func() error{synth.Close}, a.closers...)
	return nil
}

func (a *App) initRecognition() error {
	p, err := a.reg.NewRecognition(stt.Kind(a.cfg.Recognition.Backend))
	if err != nil {
		return err
	}
	a.recProv = p
	a.corrector = transcript.NewCorrector(a.cfg.Recognition.Vocabulary)

	rec, err := speech.NewRecognitionEngine(a.reg,
		speech.WithRecognitionProvider(p),
		speech.WithResultFilter(a.corrector.Filter),
		speech.WithFinalResultHandler(a.recordUtterance),
		speech.WithRecognitionMetrics(a.metrics),
	)
	if err != nil {
		_ = p.Close()
		return err
	}
	a.rec = rec
	a.closers = append([]func() error{rec.Close}, a.closers...)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP API, including health and metrics routes.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves the HTTP API on the configured address and logs synthesis
// events until ctx is cancelled. It returns ctx's error on a clean stop.
func (a *App) Run(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.config().Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.logSynthesisEvents(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) logSynthesisEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.synth.Events():
			if !ok {
				return
			}
			if ev.Type == tts.EventFailed {
				slog.Warn("synthesis failed", "backend", a.synth.Kind(), "err", ev.Err)
				continue
			}
			slog.Debug("synthesis event", "type", ev.Type, "progress", ev.Progress)
		}
	}
}

// Say speaks text with the configured default voice and records the outcome
// in the journal. It backs both the -say flag and POST /v1/speak.
func (a *App) Say(ctx context.Context, text, voiceID string) (tts.Kind, error) {
	if voiceID == "" {
		voiceID = a.config().Synthesis.Voice
	}
	var voice *tts.Voice
	if voiceID != "" {
		voice = &tts.Voice{ID: voiceID}
	}

	start := time.Now()
	err := a.synth.Speak(ctx, text, voice)
	backend := a.synth.Kind()

	status := "completed"
	switch {
	case errors.Is(err, tts.ErrCancelled):
		status = "cancelled"
	case err != nil:
		status = "failed"
	}
	e := journal.Entry{
		SessionID: uuid.New(),
		Kind:      journal.KindSpeech,
		Backend:   string(backend),
		Text:      text,
		Status:    status,
		Duration:  time.Since(start),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if strings.TrimSpace(text) != "" {
		a.appendJournal(ctx, e)
	}
	return backend, err
}

// StartListening begins a new recognition session under a fresh session ID.
func (a *App) StartListening(ctx context.Context, locale string) (uuid.UUID, error) {
	if locale == "" {
		locale = a.config().Recognition.Locale
	}
	if a.rec.AuthorizationStatus() == stt.NotDetermined {
		a.rec.RequestAuthorization(ctx)
	}

	a.listenMu.Lock()
	defer a.listenMu.Unlock()

	// The previous session's last final is journaled before its ID changes.
	a.rec.StopListening()
	id := uuid.New()
	a.sessionMu.Lock()
	a.sessionID = id
	a.sessionMu.Unlock()
	if err := a.rec.StartListening(ctx, locale); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// StopListening ends the current recognition session. A final result the
// backend still delivers is journaled under that session.
func (a *App) StopListening() {
	a.listenMu.Lock()
	defer a.listenMu.Unlock()
	a.rec.StopListening()
}

func (a *App) recordUtterance(r stt.Result) {
	a.sessionMu.Lock()
	sid := a.sessionID
	a.sessionMu.Unlock()

	a.appendJournal(context.Background(), journal.Entry{
		SessionID:  sid,
		Kind:       journal.KindUtterance,
		Backend:    string(a.rec.Kind()),
		Text:       r.Text,
		Confidence: r.Confidence,
		Status:     "final",
		Timestamp:  r.Timestamp,
	})
}

func (a *App) appendJournal(ctx context.Context, e journal.Entry) {
	// A journal write must not fail or outlive the request that caused it.
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := a.journal.Append(ctx, e); err != nil {
		observe.Logger(ctx).Warn("journal append failed", "kind", e.Kind, "err", err)
	}
}

func (a *App) config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// readiness reports the checks behind /readyz.
func (a *App) readiness() []health.Checker {
	return []health.Checker{
		health.Condition("config", "no configuration loaded", func() bool { return a.config() != nil }),
		health.Condition("synthesis", "synthesis backend unavailable", func() bool {
			return a.reg.SynthesisAvailable(a.synth.Kind())
		}),
		{Name: "journal", Check: a.journal.Ping},
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: engines first, then the journal and
// shared backend resources. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases a partially built App.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}
