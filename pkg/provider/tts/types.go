package tts

import (
	"strings"
	"time"
)

// EventType enumerates the synthesis lifecycle notifications.
type EventType int

const (
	// EventStarted is emitted once when audible playback of an utterance
	// begins.
	EventStarted EventType = iota + 1
	// EventProgress reports how far into the utterance playback has reached.
	EventProgress
	// EventPaused is emitted when playback is paused.
	EventPaused
	// EventResumed is emitted when paused playback continues.
	EventResumed
	// EventCompleted is the successful terminal event.
	EventCompleted
	// EventFailed is the unsuccessful terminal event; Event.Err holds the
	// *Error (Cancelled when the utterance was stopped).
	EventFailed
)

// String returns the lower-camel name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether t ends an utterance.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event is one element of a provider's event channel. Each utterance yields
// EventStarted, zero or more EventProgress, and exactly one terminal event.
type Event struct {
	Type EventType

	// Progress is the normalized position in [0, 1] for EventProgress. It is
	// derived from the start of the range being spoken, not its end.
	Progress float64

	// Err is set for EventFailed.
	Err error

	// Time is the emission time.
	Time time.Time
}

// Capabilities is the set of optional features a provider instance supports.
// Engines consult it before calling Pause or Resume.
type Capabilities uint8

const (
	// CapPause means Pause has an effect.
	CapPause Capabilities = 1 << iota
	// CapResume means Resume has an effect.
	CapResume
	// CapStreaming means audio starts before the whole text is synthesized.
	CapStreaming
	// CapOffline means the provider works without network access.
	CapOffline
)

// Has reports whether every capability in c is present in s.
func (s Capabilities) Has(c Capabilities) bool {
	return s&c == c
}

// String lists the capabilities, for example "pause|resume|offline".
func (s Capabilities) String() string {
	var parts []string
	for _, c := range []struct {
		cap  Capabilities
		name string
	}{
		{CapPause, "pause"},
		{CapResume, "resume"},
		{CapStreaming, "streaming"},
		{CapOffline, "offline"},
	} {
		if s.Has(c.cap) {
			parts = append(parts, c.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Voice identifies a voice offered by a synthesis backend.
type Voice struct {
	// ID is the backend's identifier, passed back on Speak.
	ID string

	// Name is a human-readable label.
	Name string

	// Language is a BCP-47 tag, or empty when the backend does not say.
	Language string
}

// Kind tags a built-in synthesis backend.
type Kind string

const (
	// KindSystem is the local, always-on backend (a Coqui TTS server on the
	// host). It is the default and the designated fallback.
	KindSystem Kind = "system"
	// KindElevenLabs is the ElevenLabs streaming cloud backend.
	KindElevenLabs Kind = "elevenlabs"
	// KindOpenAI is the OpenAI speech backend.
	KindOpenAI Kind = "openai"
	// KindMock is the in-memory test double.
	KindMock Kind = "mock"
)

// DefaultKind is the backend used when none is named.
const DefaultKind = KindSystem

// FallbackKind is the backend engines fall back to when another one fails.
const FallbackKind = KindSystem
