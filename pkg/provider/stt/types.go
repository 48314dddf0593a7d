package stt

import "time"

// Result is one transcription chunk emitted by a recognition provider. Both
// partial (interim) and final results use this type. A Result is a plain
// value: it is never mutated after emission and is superseded, not updated,
// by the next one.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal marks an authoritative result. A final result ends the
	// listening session that produced it.
	IsFinal bool

	// Confidence is the recognizer's confidence in [0, 1]. Backends that do
	// not report confidence leave it at zero for partials.
	Confidence float64

	// Timestamp is the wall-clock time at which the result was emitted.
	Timestamp time.Time
}

// Event is a single element of a provider's result channel. Exactly one of
// Result or Err is meaningful: failures that occur after StartListening has
// returned are delivered as an Event with a non-nil Err.
type Event struct {
	Result Result
	Err    error
}

// AuthorizationStatus is the combined microphone and recognition consent
// state owned by a provider.
type AuthorizationStatus int

const (
	// NotDetermined means consent has not been requested yet.
	NotDetermined AuthorizationStatus = iota
	// Denied means the user refused consent.
	Denied
	// Restricted means consent cannot be granted on this host (for example by
	// policy or because no input device exists).
	Restricted
	// Authorized means recognition may start.
	Authorized
)

// String returns the lower-camel name of the status.
func (s AuthorizationStatus) String() string {
	switch s {
	case NotDetermined:
		return "notDetermined"
	case Denied:
		return "denied"
	case Restricted:
		return "restricted"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Kind tags a built-in recognition backend. Engines select backends by Kind
// through a registry of factories.
type Kind string

const (
	// KindVosk is the on-device Vosk streaming recognizer. It is the default.
	KindVosk Kind = "vosk"
	// KindWhisper is the on-device whisper.cpp recognizer.
	KindWhisper Kind = "whisper"
	// KindDeepgram is the Deepgram cloud streaming recognizer.
	KindDeepgram Kind = "deepgram"
	// KindMock is the in-memory test double.
	KindMock Kind = "mock"
)

// DefaultKind is the backend used when none is named.
const DefaultKind = KindVosk
