// Package mock provides a test double for the stt.Provider interface.
//
// Provider never touches audio hardware. Tests drive it by injecting results
// with SimulatePartialResult, SimulateFinalResult and SimulateError, and
// verify interactions through the recorded call counts.
//
// Example:
//
//	p := mock.New()
//	_ = p.StartListening(ctx, "en-US")
//	p.SimulateFinalResult("hello there", 0.9)
//	ev := <-p.Results()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/relay"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// resultBuffer is the capacity of the mock result channel.
const resultBuffer = 64

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// ProviderKind is returned by Kind. New sets it to stt.KindMock.
	ProviderKind stt.Kind

	// GrantStatus is the status adopted by RequestAuthorization.
	GrantStatus stt.AuthorizationStatus

	// StartErr, if non-nil, is returned by StartListening and the session does
	// not start.
	StartErr error

	// FinalizeOnStop makes StopListening emit a pending partial as a final
	// result before returning, like a backend that flushes on end of audio.
	FinalizeOnStop bool

	// --- Call records ---

	// RequestAuthorizationCalls counts calls to RequestAuthorization.
	RequestAuthorizationCalls int

	// StartListeningCalls records the locale of every StartListening call.
	StartListeningCalls []string

	// StopListeningCalls counts calls to StopListening.
	StopListeningCalls int

	// CloseCalls counts calls to Close.
	CloseCalls int

	status    stt.AuthorizationStatus
	listening bool
	partial   string
	results   *relay.Stream[stt.Event]
}

var _ stt.Provider = (*Provider)(nil)

// New returns a mock that is already authorized.
func New() *Provider {
	return &Provider{
		ProviderKind: stt.KindMock,
		GrantStatus:  stt.Authorized,
		status:       stt.Authorized,
		results:      relay.NewStream[stt.Event](resultBuffer),
	}
}

// Kind implements stt.Provider.
func (p *Provider) Kind() stt.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderKind
}

// RequestAuthorization implements stt.Provider. It adopts GrantStatus.
func (p *Provider) RequestAuthorization(context.Context) stt.AuthorizationStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RequestAuthorizationCalls++
	p.status = p.GrantStatus
	return p.status
}

// AuthorizationStatus implements stt.Provider.
func (p *Provider) AuthorizationStatus() stt.AuthorizationStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetAuthorizationStatus overrides the current status without recording a
// RequestAuthorization call.
func (p *Provider) SetAuthorizationStatus(s stt.AuthorizationStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// StartListening implements stt.Provider. It fails with StartErr when set and
// with stt.ErrNotAuthorized when the status is not Authorized.
func (p *Provider) StartListening(_ context.Context, locale string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartListeningCalls = append(p.StartListeningCalls, locale)
	if p.StartErr != nil {
		return p.StartErr
	}
	if p.status != stt.Authorized {
		return stt.ErrNotAuthorized
	}
	p.results.Drain()
	p.partial = ""
	p.listening = true
	return nil
}

// StopListening implements stt.Provider.
func (p *Provider) StopListening() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopListeningCalls++
	if p.listening && p.FinalizeOnStop && p.partial != "" {
		p.results.Send(stt.Event{Result: stt.Result{
			Text:       p.partial,
			IsFinal:    true,
			Confidence: 1,
			Timestamp:  time.Now(),
		}})
	}
	p.listening = false
}

// IsListening implements stt.Provider.
func (p *Provider) IsListening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listening
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

// Close implements stt.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	p.listening = false
	p.results.Close()
	return nil
}

// SimulatePartialResult emits a partial result with confidence 0.5. It
// reports false and emits nothing when no session is active.
func (p *Provider) SimulatePartialResult(text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.listening {
		return false
	}
	p.partial = text
	p.results.Send(stt.Event{Result: stt.Result{
		Text:       text,
		Confidence: 0.5,
		Timestamp:  time.Now(),
	}})
	return true
}

// SimulateFinalResult emits a final result and ends the session. It reports
// false and emits nothing when no session is active.
func (p *Provider) SimulateFinalResult(text string, confidence float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.listening {
		return false
	}
	p.partial = text
	p.listening = false
	p.results.Send(stt.Event{Result: stt.Result{
		Text:       text,
		IsFinal:    true,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}})
	return true
}

// SimulateError emits err on the result channel and ends the session. It
// reports false and emits nothing when no session is active.
func (p *Provider) SimulateError(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.listening {
		return false
	}
	p.listening = false
	p.results.Send(stt.Event{Err: err})
	return true
}

// Reset clears all call records and the StartErr. Authorization state and the
// result channel are kept.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartErr = nil
	p.RequestAuthorizationCalls = 0
	p.StartListeningCalls = nil
	p.StopListeningCalls = 0
	p.CloseCalls = 0
}
