// Package speech provides the two engines calling code talks to:
// [RecognitionEngine] for speech-to-text and [SynthesisEngine] for
// text-to-speech. Engines own one provider at a time, selected by kind tag
// from a [Registry], and add the behaviour no single backend has on its own:
// result bookkeeping, event relaying across provider replacement and
// automatic synthesis fallback.
package speech

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrBackendNotRegistered is returned when no backend has been registered
// under the requested kind.
var ErrBackendNotRegistered = errors.New("speech: backend not registered")

// RecognitionBackend describes how to build one recognition provider.
type RecognitionBackend struct {
	// New constructs a fresh provider.
	New func() (stt.Provider, error)

	// Available reports whether the backend can currently be used. It is
	// evaluated every time the backend is selected. A nil Available means
	// always available.
	Available func() bool
}

// SynthesisBackend describes how to build one synthesis provider.
type SynthesisBackend struct {
	New       func() (tts.Provider, error)
	Available func() bool
}

// Registry maps backend kinds to their factories. It is safe for concurrent
// use.
type Registry struct {
	mu          sync.RWMutex
	recognition map[stt.Kind]RecognitionBackend
	synthesis   map[tts.Kind]SynthesisBackend
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognition: make(map[stt.Kind]RecognitionBackend),
		synthesis:   make(map[tts.Kind]SynthesisBackend),
	}
}

// RegisterRecognition registers b under k, replacing any earlier
// registration.
func (r *Registry) RegisterRecognition(k stt.Kind, b RecognitionBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognition[k] = b
}

// RegisterSynthesis registers b under k, replacing any earlier registration.
func (r *Registry) RegisterSynthesis(k tts.Kind, b SynthesisBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesis[k] = b
}

// RecognitionKinds returns the registered recognition kinds in sorted order.
func (r *Registry) RecognitionKinds() []stt.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]stt.Kind, 0, len(r.recognition))
	for k := range r.recognition {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// SynthesisKinds returns the registered synthesis kinds in sorted order.
func (r *Registry) SynthesisKinds() []tts.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]tts.Kind, 0, len(r.synthesis))
	for k := range r.synthesis {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// RecognitionAvailable reports whether k is registered and usable now.
func (r *Registry) RecognitionAvailable(k stt.Kind) bool {
	r.mu.RLock()
	b, ok := r.recognition[k]
	r.mu.RUnlock()
	return ok && (b.Available == nil || b.Available())
}

// SynthesisAvailable reports whether k is registered and usable now.
func (r *Registry) SynthesisAvailable(k tts.Kind) bool {
	r.mu.RLock()
	b, ok := r.synthesis[k]
	r.mu.RUnlock()
	return ok && (b.Available == nil || b.Available())
}

// NewRecognition builds a recognition provider of kind k. An unregistered
// kind yields [ErrBackendNotRegistered]; a registered but unavailable one
// yields an [stt.NotAvailable] error.
func (r *Registry) NewRecognition(k stt.Kind) (stt.Provider, error) {
	r.mu.RLock()
	b, ok := r.recognition[k]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("speech: recognition backend %q: %w", k, ErrBackendNotRegistered)
	}
	if b.Available != nil && !b.Available() {
		return nil, &stt.Error{Kind: stt.NotAvailable, Detail: string(k)}
	}
	p, err := b.New()
	if err != nil {
		return nil, fmt.Errorf("speech: create recognition backend %q: %w", k, err)
	}
	return p, nil
}

// NewSynthesis builds a synthesis provider of kind k. An unregistered kind
// yields [ErrBackendNotRegistered]; an unavailable one yields
// ProviderNotAvailable(k). Construction failures that are not already an
// *tts.Error are reported as InitializationFailed.
func (r *Registry) NewSynthesis(k tts.Kind) (tts.Provider, error) {
	r.mu.RLock()
	b, ok := r.synthesis[k]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("speech: synthesis backend %q: %w", k, ErrBackendNotRegistered)
	}
	if b.Available != nil && !b.Available() {
		return nil, tts.NewProviderNotAvailable(k)
	}
	p, err := b.New()
	if err != nil {
		var te *tts.Error
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, tts.NewInitializationFailed(fmt.Sprintf("%s: %v", k, err))
	}
	return p, nil
}
