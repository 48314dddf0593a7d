// Package native adapts a callback-driven recognition backend to the
// stt.Provider contract.
//
// The adapter owns the session state machine
//
//	idle → listening → (finalizing → idle | error → idle)
//
// and a serial [relay.Queue] on which every public operation and every native
// callback runs. Backends may call back from any goroutine; the adapter copies
// the callback into plain values and redispatches it onto the queue, which
// preserves emission order and keeps state mutation on one goroutine.
//
// A silence timer turns continuous dictation into utterance-at-a-time
// behaviour: it restarts on every partial result and, when it expires while a
// non-empty partial exists, emits that partial as the final result.
//
// StopListening with a pending partial enters finalizing: the task is told
// that audio has ended and the adapter waits up to the finalize timeout for
// the backend's final result before cancelling it.
package native

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/relay"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// DefaultSilenceThreshold is how long the adapter waits without new partial
// results before finalizing the session.
const DefaultSilenceThreshold = 1500 * time.Millisecond

// silenceConfidence is the confidence reported for results finalized by the
// silence timer.
const silenceConfidence = 1.0

// DefaultFinalizeTimeout bounds how long StopListening waits for the
// backend's final result.
const DefaultFinalizeTimeout = 2 * time.Second

const defaultResultBuffer = 64

type state int

const (
	stateIdle state = iota
	stateListening
	stateFinalizing
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSilenceThreshold overrides DefaultSilenceThreshold. Non-positive values
// disable silence finalization.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithFinalizeTimeout overrides DefaultFinalizeTimeout. Non-positive values
// make StopListening cancel the task without waiting for a final result.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(p *Provider) { p.finalizeTimeout = d }
}

// WithAuthorizer sets the consent source. The default authorizes every
// request.
func WithAuthorizer(a Authorizer) Option {
	return func(p *Provider) { p.auth = a }
}

// WithResultBuffer sets the capacity of the result channel.
func WithResultBuffer(n int) Option {
	return func(p *Provider) { p.bufferSize = n }
}

// Provider implements stt.Provider over a native backend.
type Provider struct {
	kind       stt.Kind
	factory    RecognizerFactory
	capture    Capture
	auth       Authorizer
	silence    time.Duration
	bufferSize int

	finalizeTimeout time.Duration

	queue   *relay.Queue
	results *relay.Stream[stt.Event]

	// mu guards the fields below. They are written only from the queue
	// goroutine; mu lets the read-only accessors run anywhere.
	mu         sync.Mutex
	state      state
	partial    string
	gen        uint64
	timerSeq   uint64
	timer      *time.Timer
	recognizer Recognizer
	task       Task
	finalized  chan struct{} // closed by teardown while finalizing
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider reporting kind, building one recognizer per session
// through factory and feeding it from capture.
func New(kind stt.Kind, factory RecognizerFactory, capture Capture, opts ...Option) (*Provider, error) {
	if factory == nil {
		return nil, errors.New("native: recognizer factory must not be nil")
	}
	if capture == nil {
		return nil, errors.New("native: capture must not be nil")
	}
	p := &Provider{
		kind:       kind,
		factory:    factory,
		capture:    capture,
		auth:       StaticAuthorizer(stt.Authorized),
		silence:    DefaultSilenceThreshold,
		bufferSize: defaultResultBuffer,

		finalizeTimeout: DefaultFinalizeTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	p.queue = relay.NewQueue()
	p.results = relay.NewStream[stt.Event](p.bufferSize)
	return p, nil
}

// Kind implements stt.Provider.
func (p *Provider) Kind() stt.Kind { return p.kind }

// RequestAuthorization implements stt.Provider.
func (p *Provider) RequestAuthorization(ctx context.Context) stt.AuthorizationStatus {
	return p.auth.Request(ctx)
}

// AuthorizationStatus implements stt.Provider.
func (p *Provider) AuthorizationStatus() stt.AuthorizationStatus {
	return p.auth.Status()
}

// IsListening implements stt.Provider.
func (p *Provider) IsListening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateListening
}

// PartialTranscription implements stt.Provider.
func (p *Provider) PartialTranscription() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.partial
}

// Results implements stt.Provider.
func (p *Provider) Results() <-chan stt.Event {
	return p.results.C()
}

// StartListening implements stt.Provider. Starting while a session is active
// ends that session first.
func (p *Provider) StartListening(ctx context.Context, locale string) error {
	if err := ctx.Err(); err != nil {
		return stt.ErrCancelled
	}
	var err error
	if !p.queue.Do(func() { err = p.start(ctx, locale) }) {
		return &stt.Error{Kind: stt.NotAvailable, Detail: "provider closed"}
	}
	return err
}

// StopListening implements stt.Provider. A session with a pending partial
// is finalized: the backend gets up to the finalize timeout to deliver its
// final result, which is emitted like any other. The session is idle when
// StopListening returns.
func (p *Provider) StopListening() {
	var (
		finalized <-chan struct{}
		gen       uint64
	)
	p.queue.Do(func() { finalized, gen = p.stop() })
	if finalized == nil {
		return
	}

	timer := time.NewTimer(p.finalizeTimeout)
	defer timer.Stop()
	select {
	case <-finalized:
		return
	case <-timer.C:
	}

	p.queue.Do(func() {
		p.mu.Lock()
		pending := p.state == stateFinalizing && p.gen == gen
		p.mu.Unlock()
		if pending {
			slog.Debug("stt: no final result before timeout", "kind", p.kind, "timeout", p.finalizeTimeout)
			p.teardown()
		}
	})
}

// SetSilenceThreshold changes the silence threshold. A running session picks
// it up at its next partial result. Non-positive values are ignored.
func (p *Provider) SetSilenceThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	p.queue.Do(func() { p.silence = d })
}

// Close implements stt.Provider.
func (p *Provider) Close() error {
	p.queue.Do(func() {
		if p.active() {
			p.teardown()
		}
	})
	p.queue.Close()
	p.results.Close()
	return nil
}

// ---- queue-owned operations ----

// active reports whether a session is listening or finalizing.
func (p *Provider) active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != stateIdle
}

// stop ends the session, or moves it to finalizing when there is a partial
// the backend can still complete. It returns the channel closed once
// finalizing ends, or nil when the session is already idle.
func (p *Provider) stop() (<-chan struct{}, uint64) {
	p.mu.Lock()
	state, partial, task, gen, finalized := p.state, p.partial, p.task, p.gen, p.finalized
	p.mu.Unlock()
	switch state {
	case stateIdle:
		return nil, 0
	case stateFinalizing:
		return finalized, gen
	}
	if p.finalizeTimeout <= 0 || strings.TrimSpace(partial) == "" {
		slog.Debug("stt: stop listening", "kind", p.kind)
		p.teardown()
		return nil, 0
	}

	slog.Debug("stt: stop listening, awaiting final result", "kind", p.kind)
	finalized = make(chan struct{})
	p.mu.Lock()
	p.state = stateFinalizing
	p.finalized = finalized
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	// EndAudio releases a capture goroutine blocked in Append, so Stop can
	// wait for it.
	task.EndAudio()
	p.capture.Stop()
	return finalized, gen
}

func (p *Provider) start(ctx context.Context, locale string) error {
	if p.active() {
		slog.Debug("stt: restarting active session", "kind", p.kind)
		p.teardown()
	}

	if p.auth.Status() != stt.Authorized {
		return stt.ErrNotAuthorized
	}

	rec, err := p.factory(locale)
	if err != nil {
		return &stt.Error{Kind: stt.NotAvailable, Detail: err.Error()}
	}
	if !rec.Available() {
		_ = rec.Close()
		return &stt.Error{Kind: stt.NotAvailable, Detail: "recognizer unavailable for locale " + locale}
	}

	p.results.Drain()
	p.mu.Lock()
	p.partial = ""
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	task, err := rec.Start(ctx, func(cb Callback) {
		p.queue.Post(func() { p.handle(gen, cb) })
	})
	if err != nil {
		_ = rec.Close()
		p.bumpGeneration()
		return stt.NewRecognitionFailed(err.Error())
	}

	if err := p.capture.Start(task.Append); err != nil {
		task.Cancel()
		p.capture.Stop()
		_ = rec.Close()
		p.bumpGeneration()
		slog.Warn("stt: audio capture failed to start", "kind", p.kind, "err", err)
		return stt.NewAudioEngineError(err.Error())
	}

	p.mu.Lock()
	p.state = stateListening
	p.recognizer = rec
	p.task = task
	p.mu.Unlock()

	slog.Debug("stt: listening", "kind", p.kind, "locale", locale)
	return nil
}

// handle applies one native callback. Callbacks from a superseded session are
// dropped.
func (p *Provider) handle(gen uint64, cb Callback) {
	p.mu.Lock()
	stale := gen != p.gen || p.state == stateIdle
	finalizing := p.state == stateFinalizing
	p.mu.Unlock()
	if stale {
		return
	}

	if cb.Err != nil {
		if errors.Is(cb.Err, ErrCanceled) {
			slog.Debug("stt: recognition canceled", "kind", p.kind)
			p.teardown()
			return
		}
		var serr *stt.Error
		if !errors.As(cb.Err, &serr) {
			serr = stt.NewRecognitionFailed(cb.Err.Error())
		}
		p.results.Send(stt.Event{Err: serr})
		p.teardown()
		return
	}

	res := stt.Result{
		Text:       cb.Text,
		IsFinal:    cb.IsFinal,
		Confidence: clampUnit(cb.Confidence),
		Timestamp:  time.Now(),
	}
	p.mu.Lock()
	p.partial = cb.Text
	p.mu.Unlock()

	p.results.Send(stt.Event{Result: res})
	if res.IsFinal {
		p.teardown()
		return
	}
	if !finalizing {
		p.restartSilenceTimer(gen)
	}
}

func (p *Provider) restartSilenceTimer(gen uint64) {
	if p.silence <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timerSeq++
	seq := p.timerSeq
	p.timer = time.AfterFunc(p.silence, func() {
		p.queue.Post(func() { p.silenceExpired(gen, seq) })
	})
}

func (p *Provider) silenceExpired(gen, seq uint64) {
	p.mu.Lock()
	current := gen == p.gen && seq == p.timerSeq && p.state == stateListening
	text := p.partial
	p.mu.Unlock()
	if !current || strings.TrimSpace(text) == "" {
		return
	}

	slog.Debug("stt: silence threshold reached, finalizing", "kind", p.kind, "threshold", p.silence)
	p.results.Send(stt.Event{Result: stt.Result{
		Text:       text,
		IsFinal:    true,
		Confidence: silenceConfidence,
		Timestamp:  time.Now(),
	}})
	p.teardown()
}

// teardown returns the adapter to idle. The task is cancelled before capture
// stops: Stop waits for the capture goroutine, which may be blocked in
// Append until the task gives up.
func (p *Provider) teardown() {
	p.mu.Lock()
	task, rec := p.task, p.recognizer
	p.task, p.recognizer = nil, nil
	p.state = stateIdle
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	finalized := p.finalized
	p.finalized = nil
	p.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	p.capture.Stop()
	if finalized != nil {
		close(finalized)
	}
	if rec != nil {
		if err := rec.Close(); err != nil {
			slog.Warn("stt: close recognizer", "kind", p.kind, "err", err)
		}
	}
}

func (p *Provider) bumpGeneration() {
	p.mu.Lock()
	p.gen++
	p.mu.Unlock()
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
