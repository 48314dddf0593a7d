package native

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// ErrCanceled is the value a backend reports through Callback.Err when a task
// ends because it was cancelled. The adapter treats it as expected teardown
// and never surfaces it.
var ErrCanceled = errors.New("native: recognition canceled")

// Callback is one notification from a running recognition task. Backends build
// it from whatever their native callback delivers, so that only plain values
// cross into the adapter.
type Callback struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Err        error
}

// Recognizer is a locale-bound recognition engine. It is created by a
// RecognizerFactory for each session and closed when the session ends.
type Recognizer interface {
	// Available reports whether the recognizer can serve requests right now.
	Available() bool

	// Start begins a recognition task. handler may be invoked from any
	// goroutine, but must be invoked sequentially and in emission order.
	// ctx bounds only the setup of the task, not its lifetime.
	Start(ctx context.Context, handler func(Callback)) (Task, error)

	// Close releases the recognizer.
	Close() error
}

// Task is a running recognition request fed with captured audio.
type Task interface {
	// Append feeds 16-bit mono samples at the capture sample rate. It is
	// called from the capture goroutine. It may block while the backend
	// catches up, but must return once EndAudio or Cancel has been called.
	Append(samples []int16)

	// EndAudio signals that no more audio will follow; the backend should
	// deliver its final result, if any, and then stop calling back.
	EndAudio()

	// Cancel aborts the task. A backend may respond with a Callback whose Err
	// is ErrCanceled.
	Cancel()
}

// RecognizerFactory builds a Recognizer for locale. An error means no
// recognizer exists for that locale.
type RecognizerFactory func(locale string) (Recognizer, error)

// Capture is the audio tap that feeds recognition tasks.
type Capture interface {
	// Start installs onBuffer and starts the input device. onBuffer is called
	// from the capture goroutine with 16-bit mono samples.
	Start(onBuffer func(samples []int16)) error

	// Stop removes the tap and stops the device. It is safe to call when not
	// started.
	Stop()
}

// Authorizer resolves microphone and recognition consent.
type Authorizer interface {
	Request(ctx context.Context) stt.AuthorizationStatus
	Status() stt.AuthorizationStatus
}

// StaticAuthorizer is an Authorizer with a fixed status, for hosts without a
// consent prompt.
type StaticAuthorizer stt.AuthorizationStatus

// Request implements Authorizer.
func (a StaticAuthorizer) Request(context.Context) stt.AuthorizationStatus {
	return stt.AuthorizationStatus(a)
}

// Status implements Authorizer.
func (a StaticAuthorizer) Status() stt.AuthorizationStatus {
	return stt.AuthorizationStatus(a)
}
