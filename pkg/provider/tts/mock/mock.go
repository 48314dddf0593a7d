// Package mock provides a test double for the tts.Provider interface.
//
// With AutoComplete set, every valid Speak call emits EventStarted and
// EventCompleted and returns immediately. Without it, Speak blocks after
// EventStarted until the test calls CompleteSpeaking, FailSpeaking or Stop,
// which makes pause/resume/stop sequences easy to drive.
//
// Example:
//
//	p := mock.New(tts.CapPause | tts.CapResume)
//	p.AutoComplete = true
//	err := p.Speak(ctx, "hello", nil)
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/relay"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const eventBuffer = 64

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	Text  string
	Voice *tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// ProviderKind is returned by Kind. New sets it to tts.KindMock.
	ProviderKind tts.Kind

	// Caps is returned by Capabilities.
	Caps tts.Capabilities

	// AutoComplete makes Speak finish immediately with EventCompleted.
	AutoComplete bool

	// SpeakErr, if non-nil, makes every non-blank Speak emit EventFailed with
	// this error and return it.
	SpeakErr error

	// SetConfigErr, if non-nil, is returned by SetConfig.
	SetConfigErr error

	// --- Call records ---

	// SpeakCalls records every call to Speak in order, including rejected
	// ones.
	SpeakCalls []SpeakCall

	// StopCalls, PauseCalls, ResumeCalls and CloseCalls count the respective
	// method invocations regardless of whether they had an effect.
	StopCalls   int
	PauseCalls  int
	ResumeCalls int
	CloseCalls  int

	// SetConfigCalls records every configuration passed to SetConfig.
	SetConfigCalls []tts.Config

	playing bool
	paused  bool
	current chan error
	events  *relay.Stream[tts.Event]
}

var _ tts.Provider = (*Provider)(nil)

// New returns an idle mock advertising caps.
func New(caps tts.Capabilities) *Provider {
	return &Provider{
		ProviderKind: tts.KindMock,
		Caps:         caps,
		events:       relay.NewStream[tts.Event](eventBuffer),
	}
}

// Kind implements tts.Provider.
func (p *Provider) Kind() tts.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderKind
}

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// Events implements tts.Provider.
func (p *Provider) Events() <-chan tts.Event {
	return p.events.C()
}

// Speak implements tts.Provider.
func (p *Provider) Speak(ctx context.Context, text string, voice *tts.Voice) error {
	p.mu.Lock()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Text: text, Voice: voice})
	if strings.TrimSpace(text) == "" {
		p.mu.Unlock()
		return tts.ErrInvalidText
	}
	if p.current != nil {
		p.finishLocked(tts.ErrCancelled)
	}
	if p.SpeakErr != nil {
		err := p.SpeakErr
		p.emitLocked(tts.Event{Type: tts.EventFailed, Err: err})
		p.mu.Unlock()
		return err
	}

	p.emitLocked(tts.Event{Type: tts.EventStarted})
	if p.AutoComplete {
		p.emitLocked(tts.Event{Type: tts.EventCompleted})
		p.mu.Unlock()
		return nil
	}

	done := make(chan error, 1)
	p.current = done
	p.playing = true
	p.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.mu.Lock()
		if p.current == done {
			p.finishLocked(tts.ErrCancelled)
		}
		p.mu.Unlock()
		return <-done
	}
}

// CompleteSpeaking finishes the blocked utterance successfully. It reports
// false when nothing is being spoken.
func (p *Provider) CompleteSpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	p.finishLocked(nil)
	return true
}

// FailSpeaking finishes the blocked utterance with err. It reports false when
// nothing is being spoken.
func (p *Provider) FailSpeaking(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	p.finishLocked(err)
	return true
}

// EmitProgress emits a progress event for the blocked utterance.
func (p *Provider) EmitProgress(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(tts.Event{Type: tts.EventProgress, Progress: v})
}

// Stop implements tts.Provider.
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCalls++
	if p.current != nil {
		p.finishLocked(tts.ErrCancelled)
	}
}

// Pause implements tts.Provider.
func (p *Provider) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PauseCalls++
	if !p.Caps.Has(tts.CapPause) || !p.playing {
		return
	}
	p.playing, p.paused = false, true
	p.emitLocked(tts.Event{Type: tts.EventPaused})
}

// Resume implements tts.Provider.
func (p *Provider) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResumeCalls++
	if !p.Caps.Has(tts.CapResume) || !p.paused {
		return
	}
	p.playing, p.paused = true, false
	p.emitLocked(tts.Event{Type: tts.EventResumed})
}

// IsPlaying implements tts.Provider.
func (p *Provider) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// IsPaused implements tts.Provider.
func (p *Provider) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// SetConfig implements tts.Provider.
func (p *Provider) SetConfig(cfg tts.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetConfigCalls = append(p.SetConfigCalls, cfg)
	return p.SetConfigErr
}

// Close implements tts.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	if p.current != nil {
		p.finishLocked(tts.ErrCancelled)
	}
	p.events.Close()
	return nil
}

// Reset clears all call records and injected errors.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakErr = nil
	p.SetConfigErr = nil
	p.SpeakCalls = nil
	p.StopCalls = 0
	p.PauseCalls = 0
	p.ResumeCalls = 0
	p.CloseCalls = 0
	p.SetConfigCalls = nil
}

func (p *Provider) finishLocked(err error) {
	if err == nil {
		p.emitLocked(tts.Event{Type: tts.EventCompleted})
	} else {
		p.emitLocked(tts.Event{Type: tts.EventFailed, Err: err})
	}
	p.current <- err
	p.current = nil
	p.playing, p.paused = false, false
}

func (p *Provider) emitLocked(ev tts.Event) {
	ev.Time = time.Now()
	p.events.Send(ev)
}
