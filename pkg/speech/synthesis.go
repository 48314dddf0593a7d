package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/relay"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const eventBuffer = 64

// SynthesisOption configures a [SynthesisEngine].
type SynthesisOption func(*synthesisOptions)

type synthesisOptions struct {
	kind         tts.Kind
	provider     tts.Provider
	fallback     bool
	fallbackKind tts.Kind
	cfg          *tts.Config
	metrics      *observe.Metrics
}

// WithSynthesisKind selects the backend kind built from the registry.
// Default: [tts.DefaultKind].
func WithSynthesisKind(k tts.Kind) SynthesisOption {
	return func(o *synthesisOptions) { o.kind = k }
}

// WithSynthesisProvider injects a ready provider instead of building one
// from the registry. The engine takes ownership of it.
func WithSynthesisProvider(p tts.Provider) SynthesisOption {
	return func(o *synthesisOptions) { o.provider = p }
}

// WithFallback enables or disables automatic fallback. Default: enabled.
func WithFallback(enabled bool) SynthesisOption {
	return func(o *synthesisOptions) { o.fallback = enabled }
}

// WithFallbackKind selects the backend used after a failure. Default:
// [tts.FallbackKind].
func WithFallbackKind(k tts.Kind) SynthesisOption {
	return func(o *synthesisOptions) { o.fallbackKind = k }
}

// WithConfig applies cfg to the provider at construction and to every
// fallback provider.
func WithConfig(cfg tts.Config) SynthesisOption {
	return func(o *synthesisOptions) { o.cfg = &cfg }
}

// WithMetrics overrides the metrics instruments. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) SynthesisOption {
	return func(o *synthesisOptions) { o.metrics = m }
}

// SynthesisEngine drives one synthesis provider and replaces it with the
// fallback backend when it fails. Events from whichever provider is active
// are relayed onto a single engine-owned stream.
//
// All methods are safe for concurrent use. Speak blocks; Stop, Pause and
// Resume may be called while it runs.
type SynthesisEngine struct {
	mu           sync.Mutex
	provider     tts.Provider
	reg          *Registry
	fallback     bool
	fallbackKind tts.Kind
	cfg          *tts.Config
	err          error
	closed       bool

	// relayDone is closed when the active provider's event channel has
	// been drained after its Close.
	relayDone chan struct{}

	metrics *observe.Metrics
	events  *relay.Stream[tts.Event]
}

// NewSynthesisEngine builds an engine around the provider selected by opts.
// reg may be nil when [WithSynthesisProvider] is given, in which case
// fallback has nowhere to go and is effectively disabled.
func NewSynthesisEngine(reg *Registry, opts ...SynthesisOption) (*SynthesisEngine, error) {
	o := synthesisOptions{
		kind:         tts.DefaultKind,
		fallback:     true,
		fallbackKind: tts.FallbackKind,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	p := o.provider
	if p == nil {
		if reg == nil {
			return nil, errors.New("speech: synthesis engine needs a registry or a provider")
		}
		var err error
		if p, err = reg.NewSynthesis(o.kind); err != nil {
			return nil, err
		}
	}
	if o.cfg != nil {
		if err := p.SetConfig(*o.cfg); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	e := &SynthesisEngine{
		reg:          reg,
		fallback:     o.fallback,
		fallbackKind: o.fallbackKind,
		cfg:          o.cfg,
		metrics:      o.metrics,
		events:       relay.NewStream[tts.Event](eventBuffer),
	}
	e.mu.Lock()
	e.attachLocked(p)
	e.mu.Unlock()
	return e, nil
}

// Kind reports the backend kind of the currently owned provider. It changes
// after a fallback.
func (e *SynthesisEngine) Kind() tts.Kind { return e.current().Kind() }

// Capabilities reports the active provider's capabilities.
func (e *SynthesisEngine) Capabilities() tts.Capabilities { return e.current().Capabilities() }

// IsPlaying reports whether an utterance is being played.
func (e *SynthesisEngine) IsPlaying() bool { return e.current().IsPlaying() }

// IsPaused reports whether playback is paused.
func (e *SynthesisEngine) IsPaused() bool { return e.current().IsPaused() }

// Events returns the engine's event stream. The channel stays the same
// across provider replacement.
func (e *SynthesisEngine) Events() <-chan tts.Event { return e.events.C() }

// Err returns the error of the last Speak call, or nil.
func (e *SynthesisEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// FallbackEnabled reports whether automatic fallback is on.
func (e *SynthesisEngine) FallbackEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fallback
}

// SetFallback toggles automatic fallback.
func (e *SynthesisEngine) SetFallback(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallback = enabled
}

// SetFallbackKind changes the backend used for fallback. It takes effect on
// the next failure.
func (e *SynthesisEngine) SetFallbackKind(k tts.Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallbackKind = k
}

// Speak speaks text with voice (nil for the backend default) and blocks
// until the utterance ends.
//
// When the provider fails with a synthesis error other than Cancelled or
// InvalidText, fallback is enabled and the provider is not already the
// fallback kind, the provider is replaced by a fresh fallback provider and
// the text is retried once with the default voice. If the retry also fails
// the original error is returned.
func (e *SynthesisEngine) Speak(ctx context.Context, text string, voice *tts.Voice) error {
	ctx, span := observe.StartBackendSpan(ctx, "synthesis.speak", string(e.Kind()))
	err := e.speak(ctx, text, voice)
	observe.EndSpan(span, err)
	return err
}

func (e *SynthesisEngine) speak(ctx context.Context, text string, voice *tts.Voice) error {
	e.mu.Lock()
	e.err = nil
	p := e.provider
	e.mu.Unlock()

	kind := p.Kind()
	start := time.Now()
	err := p.Speak(ctx, text, voice)
	e.record(ctx, kind, err, time.Since(start))
	if err == nil {
		return nil
	}

	var te *tts.Error
	if !errors.As(err, &te) || !e.shouldFallBack(te, kind) {
		e.setErr(err)
		return err
	}

	fb, ferr := e.swapToFallback(p)
	if ferr != nil {
		e.mu.Lock()
		to := e.fallbackKind
		e.mu.Unlock()
		slog.Warn("speech: fallback unavailable", "from", kind, "to", to, "err", ferr)
		e.metrics.RecordFallback(ctx, string(kind), string(to), "unavailable")
		e.setErr(err)
		return err
	}
	slog.Info("speech: falling back", "from", kind, "to", fb.Kind(), "cause", err)

	start = time.Now()
	retryErr := fb.Speak(ctx, text, nil)
	e.record(ctx, fb.Kind(), retryErr, time.Since(start))
	if retryErr != nil {
		slog.Warn("speech: fallback speak failed", "backend", fb.Kind(), "err", retryErr)
		e.metrics.RecordFallback(ctx, string(kind), string(fb.Kind()), "failed")
		e.setErr(err)
		return err
	}
	e.metrics.RecordFallback(ctx, string(kind), string(fb.Kind()), "ok")
	return nil
}

// Stop cancels the current utterance.
func (e *SynthesisEngine) Stop() { e.current().Stop() }

// Pause pauses playback when the provider supports it.
func (e *SynthesisEngine) Pause() {
	p := e.current()
	if p.Capabilities().Has(tts.CapPause) {
		p.Pause()
	}
}

// Resume continues playback when the provider supports it.
func (e *SynthesisEngine) Resume() {
	p := e.current()
	if p.Capabilities().Has(tts.CapResume) {
		p.Resume()
	}
}

// SetConfig applies cfg to the active provider and remembers it for
// fallback providers.
func (e *SynthesisEngine) SetConfig(cfg tts.Config) error {
	e.mu.Lock()
	p := e.provider
	e.mu.Unlock()
	if err := p.SetConfig(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = &cfg
	e.mu.Unlock()
	return nil
}

// Close stops playback, closes the provider and the event stream.
func (e *SynthesisEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	p, done := e.provider, e.relayDone
	e.mu.Unlock()

	err := p.Close()
	<-done
	e.events.Close()
	return err
}

func (e *SynthesisEngine) current() tts.Provider {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider
}

func (e *SynthesisEngine) setErr(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *SynthesisEngine) shouldFallBack(te *tts.Error, kind tts.Kind) bool {
	if te.Kind == tts.Cancelled || te.Kind == tts.InvalidText {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fallback && e.reg != nil && kind != e.fallbackKind
}

// swapToFallback replaces failed with a fresh fallback provider and closes
// failed. If another goroutine already replaced failed, the current
// provider is used as is.
func (e *SynthesisEngine) swapToFallback(failed tts.Provider) (tts.Provider, error) {
	e.mu.Lock()
	if e.provider != failed {
		p := e.provider
		e.mu.Unlock()
		return p, nil
	}
	kind, cfg := e.fallbackKind, e.cfg
	e.mu.Unlock()

	fb, err := e.reg.NewSynthesis(kind)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		if err := fb.SetConfig(*cfg); err != nil {
			_ = fb.Close()
			return nil, err
		}
	}

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		_ = fb.Close()
		return nil, tts.ErrCancelled
	case e.provider != failed:
		p := e.provider
		e.mu.Unlock()
		_ = fb.Close()
		return p, nil
	}
	oldDone := e.relayDone
	e.attachLocked(fb)
	e.mu.Unlock()

	// Closing the failed provider ends its channel; the old relay forwards
	// whatever it still buffers and exits.
	if err := failed.Close(); err != nil {
		slog.Debug("speech: close replaced provider", "backend", failed.Kind(), "err", err)
	}
	<-oldDone
	return fb, nil
}

// attachLocked makes p the active provider and relays its events onto the
// engine stream until p's channel is closed.
func (e *SynthesisEngine) attachLocked(p tts.Provider) {
	e.provider = p
	done := make(chan struct{})
	e.relayDone = done
	src := p.Events()
	go func() {
		defer close(done)
		for ev := range src {
			e.events.Send(ev)
		}
	}()
}

func (e *SynthesisEngine) record(ctx context.Context, kind tts.Kind, err error, d time.Duration) {
	backend := string(kind)
	switch {
	case err == nil:
		e.metrics.RecordUtterance(ctx, backend, "completed", d)
	case errors.Is(err, tts.ErrCancelled):
		e.metrics.RecordUtterance(ctx, backend, "cancelled", d)
	default:
		e.metrics.RecordUtterance(ctx, backend, "failed", d)
		kindName := "other"
		var te *tts.Error
		if errors.As(err, &te) {
			kindName = te.Kind.String()
		}
		e.metrics.RecordSynthesisError(ctx, backend, kindName)
	}
}
