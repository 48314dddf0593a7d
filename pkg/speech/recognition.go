package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/relay"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// resultBuffer is the capacity of the engine's own result stream.
const resultBuffer = 64

// errStopListening is the consumer's cancellation cause on StopListening. The
// consumer then still handles what the provider delivered while stopping, such
// as the final result of a finalizing backend.
var errStopListening = errors.New("speech: stop listening")

// RecognitionOption configures a [RecognitionEngine].
type RecognitionOption func(*recognitionOptions)

type recognitionOptions struct {
	kind     stt.Kind
	provider stt.Provider
	onFinal  func(stt.Result)
	filter   func(stt.Result) stt.Result
	metrics  *observe.Metrics
}

// WithRecognitionKind selects the backend kind built from the registry.
// Default: [stt.DefaultKind].
func WithRecognitionKind(k stt.Kind) RecognitionOption {
	return func(o *recognitionOptions) { o.kind = k }
}

// WithRecognitionProvider injects a ready provider instead of building one
// from the registry. The engine takes ownership and closes it on Close.
func WithRecognitionProvider(p stt.Provider) RecognitionOption {
	return func(o *recognitionOptions) { o.provider = p }
}

// WithFinalResultHandler registers fn to be called with every final result
// after filtering. fn runs on the engine's consumer goroutine and must not
// call StartListening or StopListening.
func WithFinalResultHandler(fn func(stt.Result)) RecognitionOption {
	return func(o *recognitionOptions) { o.onFinal = fn }
}

// WithResultFilter installs a transformation applied to every final result
// before it is stored, handed to the final-result handler and forwarded.
func WithResultFilter(fn func(stt.Result) stt.Result) RecognitionOption {
	return func(o *recognitionOptions) { o.filter = fn }
}

// WithRecognitionMetrics overrides the metrics instruments. Default:
// [observe.DefaultMetrics].
func WithRecognitionMetrics(m *observe.Metrics) RecognitionOption {
	return func(o *recognitionOptions) { o.metrics = m }
}

// RecognitionEngine drives one recognition provider. It remembers the last
// final result and the last error of the current session, and forwards
// every result onto its own stream so consumers never touch the provider
// channel directly.
//
// All methods are safe for concurrent use.
type RecognitionEngine struct {
	// opMu serialises session operations. It is held while waiting for the
	// consumer goroutine, which only ever takes mu.
	opMu sync.Mutex

	mu         sync.Mutex
	provider   stt.Provider
	lastResult stt.Result
	hasResult  bool
	err        error
	active     bool

	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	onFinal func(stt.Result)
	filter  func(stt.Result) stt.Result
	metrics *observe.Metrics
	results *relay.Stream[stt.Event]
}

// NewRecognitionEngine builds an engine around the provider selected by
// opts. reg may be nil when [WithRecognitionProvider] is given.
func NewRecognitionEngine(reg *Registry, opts ...RecognitionOption) (*RecognitionEngine, error) {
	o := recognitionOptions{kind: stt.DefaultKind}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	p := o.provider
	if p == nil {
		if reg == nil {
			return nil, errors.New("speech: recognition engine needs a registry or a provider")
		}
		var err error
		if p, err = reg.NewRecognition(o.kind); err != nil {
			return nil, err
		}
	}

	return &RecognitionEngine{
		provider: p,
		onFinal:  o.onFinal,
		filter:   o.filter,
		metrics:  o.metrics,
		results:  relay.NewStream[stt.Event](resultBuffer),
	}, nil
}

// Kind reports the backend kind of the owned provider.
func (e *RecognitionEngine) Kind() stt.Kind { return e.current().Kind() }

// IsListening reports whether the provider has an active session.
func (e *RecognitionEngine) IsListening() bool { return e.current().IsListening() }

// AuthorizationStatus returns the provider's consent state.
func (e *RecognitionEngine) AuthorizationStatus() stt.AuthorizationStatus {
	return e.current().AuthorizationStatus()
}

// RequestAuthorization asks the provider for consent.
func (e *RecognitionEngine) RequestAuthorization(ctx context.Context) stt.AuthorizationStatus {
	return e.current().RequestAuthorization(ctx)
}

// PartialTranscription returns the provider's latest partial text.
func (e *RecognitionEngine) PartialTranscription() string {
	return e.current().PartialTranscription()
}

// LastResult returns the most recent final result of the current session.
// ok is false until one has been received.
func (e *RecognitionEngine) LastResult() (r stt.Result, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult, e.hasResult
}

// Err returns the error that ended the current session, if any.
func (e *RecognitionEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Results returns the engine's result stream. It never blocks the engine:
// when the reader falls behind the oldest unread event is dropped.
func (e *RecognitionEngine) Results() <-chan stt.Event { return e.results.C() }

// StartListening begins a session for locale. A previous session is stopped
// first. Provider errors are returned unchanged; on failure no consumer is
// started and no result is ever attributed to the failed session.
func (e *RecognitionEngine) StartListening(ctx context.Context, locale string) error {
	ctx, span := observe.StartBackendSpan(ctx, "recognition.start", string(e.Kind()))
	err := e.startListening(ctx, locale)
	observe.EndSpan(span, err)
	return err
}

func (e *RecognitionEngine) startListening(ctx context.Context, locale string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.stopConsumer(nil)
	p := e.current()
	backend := string(p.Kind())

	e.mu.Lock()
	e.lastResult, e.hasResult, e.err = stt.Result{}, false, nil
	e.mu.Unlock()

	if err := p.StartListening(ctx, locale); err != nil {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		e.metrics.RecordRecognitionSession(ctx, backend, "failed")
		e.metrics.RecordRecognitionError(ctx, backend, errorKind(err))
		slog.Warn("speech: start listening failed", "backend", backend, "locale", locale, "err", err)
		return err
	}
	e.metrics.RecordRecognitionSession(ctx, backend, "started")
	slog.Debug("speech: listening", "backend", backend, "locale", locale)

	cctx, cancel := context.WithCancelCause(context.Background())
	e.mu.Lock()
	e.active = true
	e.cancel = cancel
	e.mu.Unlock()

	ch := p.Results()
	e.wg.Add(1)
	go e.consume(cctx, ch, backend)
	return nil
}

// StopListening stops the provider session, then the consumer. A final
// result the provider emits while stopping is handled like any other. It is
// synchronous, idempotent and safe when not listening.
func (e *RecognitionEngine) StopListening() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.current().StopListening()
	e.stopConsumer(errStopListening)
}

// Close stops any session, closes the provider and the engine's stream.
func (e *RecognitionEngine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.stopConsumer(nil)
	err := e.current().Close()
	e.results.Close()
	return err
}

func (e *RecognitionEngine) current() stt.Provider {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider
}

// stopConsumer cancels the consumer goroutine with cause and waits for it.
// Callers hold opMu but not mu.
func (e *RecognitionEngine) stopConsumer(cause error) {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
	e.wg.Wait()
	e.endSession()
}

// endSession settles the active-session gauge once per session.
func (e *RecognitionEngine) endSession() {
	e.mu.Lock()
	was := e.active
	e.active = false
	e.mu.Unlock()
	if was {
		e.metrics.RecordRecognitionEnded(context.Background())
	}
}

func (e *RecognitionEngine) consume(ctx context.Context, ch <-chan stt.Event, backend string) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), errStopListening) {
				e.drain(ctx, ch, backend)
			}
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil && !errors.Is(context.Cause(ctx), errStopListening) {
				return
			}
			if e.handle(ctx, ev, backend) {
				e.endSession()
				return
			}
		}
	}
}

// drain handles events already buffered on ch, up to the one that ends the
// session.
func (e *RecognitionEngine) drain(ctx context.Context, ch <-chan stt.Event, backend string) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok || e.handle(ctx, ev, backend) {
				return
			}
		default:
			return
		}
	}
}

// handle records one provider event and reports whether it ended the
// session.
func (e *RecognitionEngine) handle(ctx context.Context, ev stt.Event, backend string) bool {
	if ev.Err != nil {
		e.mu.Lock()
		e.err = ev.Err
		e.mu.Unlock()
		e.metrics.RecordRecognitionError(ctx, backend, errorKind(ev.Err))
		slog.Warn("speech: recognition failed", "backend", backend, "err", ev.Err)
		e.results.Send(ev)
		return true
	}

	r := ev.Result
	e.metrics.RecordRecognitionResult(ctx, backend, r.IsFinal)
	if !r.IsFinal {
		e.results.Send(ev)
		return false
	}

	if e.filter != nil {
		r = e.filter(r)
	}
	e.mu.Lock()
	e.lastResult, e.hasResult = r, true
	e.mu.Unlock()
	if e.onFinal != nil {
		e.onFinal(r)
	}
	e.results.Send(stt.Event{Result: r})
	return true
}

func errorKind(err error) string {
	var se *stt.Error
	if errors.As(err, &se) {
		return se.Kind.String()
	}
	return "other"
}
