// Package stt defines the Provider contract for speech-to-text backends.
//
// A recognition provider wraps one concrete recognizer (an on-device model or
// a cloud streaming service) and exposes a uniform session model: request
// authorization, start listening for a locale, receive partial results until a
// final one ends the session, stop.
//
// Results flow through a single channel returned by [Provider.Results]. The
// channel is created when the provider is constructed and is reused by every
// session; it is closed only by [Provider.Close]. It supports exactly one live
// consumer at a time.
package stt

import "context"

// Provider is the abstraction over any recognition backend.
//
// At most one session is active per provider. Implementations must be safe
// for concurrent use.
type Provider interface {
	// Kind reports the backend tag of this provider.
	Kind() Kind

	// RequestAuthorization asks for microphone and recognition consent. It is
	// safe to call repeatedly and always returns; the returned status is also
	// what AuthorizationStatus reports afterwards.
	RequestAuthorization(ctx context.Context) AuthorizationStatus

	// AuthorizationStatus returns the last known consent state.
	AuthorizationStatus() AuthorizationStatus

	// StartListening begins a session for locale (a BCP-47 tag such as
	// "en-US"). It resets PartialTranscription and starts producing Results.
	//
	// Errors are always *Error values:
	//   - NotAuthorized when AuthorizationStatus is not Authorized.
	//   - NotAvailable when no usable recognizer exists for locale.
	//   - RecognitionFailed when the recognizer refuses the request.
	//   - AudioEngineError when capture cannot start. The session has been
	//     fully torn down by the time this error is returned.
	StartListening(ctx context.Context, locale string) error

	// StopListening ends the active session without closing the result
	// channel. It is synchronous, idempotent and safe when not listening.
	StopListening()

	// IsListening reports whether a session is active.
	IsListening() bool

	// PartialTranscription returns the most recent partial text of the
	// current (or last) session.
	PartialTranscription() string

	// Results returns the provider's result channel. The same channel is
	// returned on every call.
	Results() <-chan Event

	// Close stops any session, releases backend resources and closes the
	// result channel.
	Close() error
}
