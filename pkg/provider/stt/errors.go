package stt

import "fmt"

// ErrorKind enumerates the closed set of recognition failures.
type ErrorKind int

const (
	// NotAvailable means no usable recognizer exists for the requested locale.
	NotAvailable ErrorKind = iota + 1
	// NotAuthorized means consent has not been granted.
	NotAuthorized
	// AudioEngineError means the capture hardware could not be started.
	AudioEngineError
	// RecognitionFailed means the recognizer reported a failure.
	RecognitionFailed
	// Cancelled means the session was cancelled.
	Cancelled
)

// String returns the lower-camel name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case NotAvailable:
		return "notAvailable"
	case NotAuthorized:
		return "notAuthorized"
	case AudioEngineError:
		return "audioEngineError"
	case RecognitionFailed:
		return "recognitionFailed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the single error type returned by recognition providers. Callers
// switch on Kind; Detail carries backend-specific context for
// AudioEngineError and RecognitionFailed.
type Error struct {
	Kind   ErrorKind
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return "stt: " + e.Kind.String()
	}
	return "stt: " + e.Kind.String() + ": " + e.Detail
}

// Is reports whether target is an *Error of the same Kind, so that
// errors.Is(err, ErrRecognitionFailed) matches regardless of Detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrNotAvailable      = &Error{Kind: NotAvailable}
	ErrNotAuthorized     = &Error{Kind: NotAuthorized}
	ErrAudioEngine       = &Error{Kind: AudioEngineError}
	ErrRecognitionFailed = &Error{Kind: RecognitionFailed}
	ErrCancelled         = &Error{Kind: Cancelled}
)

// NewAudioEngineError returns an AudioEngineError carrying detail.
func NewAudioEngineError(detail string) *Error {
	return &Error{Kind: AudioEngineError, Detail: detail}
}

// NewRecognitionFailed returns a RecognitionFailed error carrying detail.
func NewRecognitionFailed(detail string) *Error {
	return &Error{Kind: RecognitionFailed, Detail: detail}
}
