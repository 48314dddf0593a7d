package native

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Utterance is one request handed to a Synthesizer.
type Utterance struct {
	Text string

	// Voice is the resolved voice; the zero value selects the backend
	// default.
	Voice tts.Voice

	Config tts.Config
}

// Delegate receives playback notifications for one utterance. A Synthesizer
// may call it from any goroutine, but must call it sequentially.
type Delegate interface {
	// DidStart is called when audio output begins.
	DidStart()

	// WillSpeakRange is called before the text range [start, start+length)
	// is spoken. Offsets count runes.
	WillSpeakRange(start, length int)

	DidPause()
	DidContinue()

	// DidFinish is called after the last sample has been played.
	DidFinish()

	// DidCancel is called when playback ends because of Stop.
	DidCancel()

	// DidFail is called when synthesis or playback fails.
	DidFail(err error)
}

// Synthesizer is the delegate-driven backend the adapter wraps.
type Synthesizer interface {
	// Speak queues u and returns immediately. Progress is reported through d.
	// An error means the utterance was rejected and d will not be called.
	Speak(u Utterance, d Delegate) error

	// Stop aborts the current utterance.
	Stop()

	// Pause pauses output and reports whether it took effect.
	Pause() bool

	// Continue resumes paused output and reports whether it took effect.
	Continue() bool

	// ResolveVoice maps a voice identifier to a Voice. It fails with
	// VoiceNotAvailable for unknown identifiers.
	ResolveVoice(ctx context.Context, id string) (tts.Voice, error)

	// Close releases the backend.
	Close() error
}
