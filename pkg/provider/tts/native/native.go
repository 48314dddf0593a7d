// Package native adapts a delegate-driven synthesis backend to the
// tts.Provider contract.
//
// The adapter runs the per-utterance state machine
//
//	idle → playing → (paused ⇄ playing) → completed | cancelled | failed → idle
//
// on a serial [relay.Queue]. Delegate callbacks are redispatched onto the
// queue and tagged with the generation of the utterance they belong to, so
// notifications from a stopped or superseded utterance are ignored.
package native

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/parley/internal/relay"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const defaultEventBuffer = 64

type state int

const (
	stateIdle state = iota
	statePlaying
	statePaused
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithConfig sets the initial tuning. Out-of-range values are clamped.
func WithConfig(cfg tts.Config) Option {
	return func(p *Provider) { p.cfg = cfg.Clamp() }
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(p *Provider) { p.bufferSize = n }
}

// Provider implements tts.Provider over a Synthesizer.
type Provider struct {
	kind       tts.Kind
	synth      Synthesizer
	caps       tts.Capabilities
	bufferSize int

	queue  *relay.Queue
	events *relay.Stream[tts.Event]

	mu    sync.Mutex
	cfg   tts.Config
	state state
	gen   uint64
	total int
	done  chan *tts.Error
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Provider reporting kind and caps on top of synth.
func New(kind tts.Kind, synth Synthesizer, caps tts.Capabilities, opts ...Option) (*Provider, error) {
	if synth == nil {
		return nil, errors.New("native: synthesizer must not be nil")
	}
	p := &Provider{
		kind:       kind,
		synth:      synth,
		caps:       caps,
		cfg:        tts.DefaultConfig(),
		bufferSize: defaultEventBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	p.queue = relay.NewQueue()
	p.events = relay.NewStream[tts.Event](p.bufferSize)
	return p, nil
}

// Kind implements tts.Provider.
func (p *Provider) Kind() tts.Kind { return p.kind }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities { return p.caps }

// Events implements tts.Provider.
func (p *Provider) Events() <-chan tts.Event { return p.events.C() }

// IsPlaying implements tts.Provider.
func (p *Provider) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == statePlaying
}

// IsPaused implements tts.Provider.
func (p *Provider) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == statePaused
}

// SetConfig implements tts.Provider.
func (p *Provider) SetConfig(cfg tts.Config) error {
	if err := cfg.Validate(); err != nil {
		return tts.NewInitializationFailed(err.Error())
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// Speak implements tts.Provider.
func (p *Provider) Speak(ctx context.Context, text string, voice *tts.Voice) error {
	if strings.TrimSpace(text) == "" {
		return tts.ErrInvalidText
	}

	var resolved tts.Voice
	if voice != nil && voice.ID != "" {
		v, err := p.synth.ResolveVoice(ctx, voice.ID)
		if err != nil {
			var te *tts.Error
			if errors.As(err, &te) {
				return te
			}
			return tts.NewVoiceNotAvailable(voice.ID)
		}
		resolved = v
	}

	var (
		gen     uint64
		done    chan *tts.Error
		startEr *tts.Error
	)
	ok := p.queue.Do(func() {
		if p.current() != stateIdle {
			slog.Debug("tts: superseding active utterance", "kind", p.kind)
			p.stopCurrent()
		}

		p.mu.Lock()
		p.gen++
		gen = p.gen
		done = make(chan *tts.Error, 1)
		p.done = done
		p.total = utf8.RuneCountInString(text)
		p.state = statePlaying
		cfg := p.cfg
		p.mu.Unlock()

		u := Utterance{Text: text, Voice: resolved, Config: cfg}
		if err := p.synth.Speak(u, &delegate{p: p, gen: gen}); err != nil {
			startEr = tts.AsError(err)
			p.finish(startEr)
		}
	})
	if !ok {
		return tts.NewProviderNotAvailable(p.kind)
	}
	if startEr != nil {
		return startEr
	}

	select {
	case err := <-done:
		return asErr(err)
	case <-ctx.Done():
		p.queue.Do(func() {
			p.mu.Lock()
			current := p.gen == gen && p.state != stateIdle
			p.mu.Unlock()
			if current {
				p.stopCurrent()
			}
		})
		return asErr(<-done)
	}
}

// Stop implements tts.Provider.
func (p *Provider) Stop() {
	p.queue.Do(func() {
		if p.current() != stateIdle {
			p.stopCurrent()
		}
	})
}

// Pause implements tts.Provider.
func (p *Provider) Pause() {
	if !p.caps.Has(tts.CapPause) {
		return
	}
	p.queue.Do(func() {
		if p.current() != statePlaying || !p.synth.Pause() {
			return
		}
		p.setState(statePaused)
		p.emit(tts.Event{Type: tts.EventPaused})
	})
}

// Resume implements tts.Provider.
func (p *Provider) Resume() {
	if !p.caps.Has(tts.CapResume) {
		return
	}
	p.queue.Do(func() {
		if p.current() != statePaused || !p.synth.Continue() {
			return
		}
		p.setState(statePlaying)
		p.emit(tts.Event{Type: tts.EventResumed})
	})
}

// Close implements tts.Provider.
func (p *Provider) Close() error {
	p.Stop()
	p.queue.Close()
	p.events.Close()
	return p.synth.Close()
}

// ---- queue-owned helpers ----

func (p *Provider) current() state {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) setState(s state) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// stopCurrent cancels the active utterance immediately, without waiting for
// the backend to confirm.
func (p *Provider) stopCurrent() {
	p.synth.Stop()
	p.finish(tts.ErrCancelled)
}

// finish emits the terminal event for the active utterance, releases its
// Speak call and returns to idle. A nil err means completion.
func (p *Provider) finish(err *tts.Error) {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.state = stateIdle
	p.gen++
	p.mu.Unlock()

	if err == nil {
		p.emit(tts.Event{Type: tts.EventCompleted})
	} else {
		p.emit(tts.Event{Type: tts.EventFailed, Err: err})
	}
	if done != nil {
		done <- err
	}
}

func (p *Provider) emit(ev tts.Event) {
	ev.Time = time.Now()
	p.events.Send(ev)
}

func (p *Provider) live(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen && p.state != stateIdle
}

func (p *Provider) progress(start int) float64 {
	p.mu.Lock()
	total := p.total
	p.mu.Unlock()
	if total <= 0 {
		return 0
	}
	return min(max(float64(start)/float64(total), 0), 1)
}

// asErr converts a nil *tts.Error into an untyped nil error.
func asErr(te *tts.Error) error {
	if te == nil {
		return nil
	}
	return te
}

// delegate forwards backend notifications for one utterance onto the queue.
type delegate struct {
	p   *Provider
	gen uint64
}

func (d *delegate) post(fn func()) {
	d.p.queue.Post(func() {
		if d.p.live(d.gen) {
			fn()
		}
	})
}

func (d *delegate) DidStart() {
	d.post(func() { d.p.emit(tts.Event{Type: tts.EventStarted}) })
}

func (d *delegate) WillSpeakRange(start, _ int) {
	d.post(func() {
		d.p.emit(tts.Event{Type: tts.EventProgress, Progress: d.p.progress(start)})
	})
}

func (d *delegate) DidPause() {
	d.post(func() {
		if d.p.current() != statePlaying {
			return
		}
		d.p.setState(statePaused)
		d.p.emit(tts.Event{Type: tts.EventPaused})
	})
}

func (d *delegate) DidContinue() {
	d.post(func() {
		if d.p.current() != statePaused {
			return
		}
		d.p.setState(statePlaying)
		d.p.emit(tts.Event{Type: tts.EventResumed})
	})
}

func (d *delegate) DidFinish() {
	d.post(func() { d.p.finish(nil) })
}

func (d *delegate) DidCancel() {
	d.post(func() { d.p.finish(tts.ErrCancelled) })
}

func (d *delegate) DidFail(err error) {
	d.post(func() {
		te := tts.AsError(err)
		if te == nil {
			te = tts.NewUnknown("synthesizer reported failure without detail")
		}
		d.p.finish(te)
	})
}
