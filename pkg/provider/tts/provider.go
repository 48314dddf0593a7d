// Package tts defines the Provider contract for text-to-speech backends.
//
// A synthesis provider speaks one utterance at a time. Speak blocks for the
// whole utterance and reports its outcome as an *Error; while it runs, the
// provider emits lifecycle events on the channel returned by Events:
// EventStarted, zero or more EventProgress, and exactly one terminal event.
//
// Optional behaviour is advertised through Capabilities rather than through
// errors. Pause and Resume on a provider that lacks the capability are
// no-ops.
package tts

import "context"

// Provider is the abstraction over any synthesis backend.
//
// Implementations must be safe for concurrent use. IsPlaying and IsPaused are
// mutually exclusive and both false while idle.
type Provider interface {
	// Kind reports the backend tag of this provider.
	Kind() Kind

	// Speak synthesizes and plays text with the given voice (nil selects the
	// backend default). Blank text fails with InvalidText before anything
	// else happens. An utterance already in progress is stopped first.
	//
	// Speak returns when playback completes, fails or is cancelled.
	// Cancelling ctx stops playback and returns Cancelled. Every returned
	// error is an *Error.
	Speak(ctx context.Context, text string, voice *Voice) error

	// Stop cancels the current utterance. The blocked Speak call returns
	// Cancelled. It is synchronous, idempotent and a no-op when idle.
	Stop()

	// Pause pauses playback. It is a no-op without CapPause or when not
	// playing.
	Pause()

	// Resume continues paused playback. It is a no-op without CapResume or
	// when not paused.
	Resume()

	// IsPlaying reports whether an utterance is audibly in progress.
	IsPlaying() bool

	// IsPaused reports whether the current utterance is paused.
	IsPaused() bool

	// Capabilities reports the optional features of this instance.
	Capabilities() Capabilities

	// Events returns the provider's event channel. The same channel is
	// returned on every call.
	Events() <-chan Event

	// SetConfig replaces the tuning applied to subsequent utterances.
	SetConfig(cfg Config) error

	// Close stops playback, releases backend resources and closes the event
	// channel.
	Close() error
}
