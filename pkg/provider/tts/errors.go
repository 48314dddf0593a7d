package tts

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the closed set of synthesis failures.
type ErrorKind int

const (
	ProviderNotAvailable ErrorKind = iota + 1
	InitializationFailed
	InvalidText
	VoiceNotAvailable
	NetworkUnavailable
	AuthenticationFailed
	RateLimitExceeded
	PlaybackFailed
	Cancelled
	Unknown
)

var kindNames = map[ErrorKind]string{
	ProviderNotAvailable: "providerNotAvailable",
	InitializationFailed: "initializationFailed",
	InvalidText:          "invalidText",
	VoiceNotAvailable:    "voiceNotAvailable",
	NetworkUnavailable:   "networkUnavailable",
	AuthenticationFailed: "authenticationFailed",
	RateLimitExceeded:    "rateLimitExceeded",
	PlaybackFailed:       "playbackFailed",
	Cancelled:            "cancelled",
	Unknown:              "unknown",
}

// String returns the lower-camel name of the kind.
func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the single error type returned by synthesis providers.
//
// Detail holds the payload of the parameterised kinds: the backend Kind for
// ProviderNotAvailable, the voice ID for VoiceNotAvailable, and a free-form
// description for InitializationFailed, PlaybackFailed and Unknown.
type Error struct {
	Kind   ErrorKind
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return "tts: " + e.Kind.String()
	}
	return "tts: " + e.Kind.String() + ": " + e.Detail
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrProviderNotAvailable = &Error{Kind: ProviderNotAvailable}
	ErrInitializationFailed = &Error{Kind: InitializationFailed}
	ErrInvalidText          = &Error{Kind: InvalidText}
	ErrVoiceNotAvailable    = &Error{Kind: VoiceNotAvailable}
	ErrNetworkUnavailable   = &Error{Kind: NetworkUnavailable}
	ErrAuthenticationFailed = &Error{Kind: AuthenticationFailed}
	ErrRateLimitExceeded    = &Error{Kind: RateLimitExceeded}
	ErrPlaybackFailed       = &Error{Kind: PlaybackFailed}
	ErrCancelled            = &Error{Kind: Cancelled}
	ErrUnknown              = &Error{Kind: Unknown}
)

// NewProviderNotAvailable reports that the backend of kind k cannot be used.
func NewProviderNotAvailable(k Kind) *Error {
	return &Error{Kind: ProviderNotAvailable, Detail: string(k)}
}

// NewInitializationFailed reports a backend that could not be constructed.
func NewInitializationFailed(detail string) *Error {
	return &Error{Kind: InitializationFailed, Detail: detail}
}

// NewVoiceNotAvailable reports an unknown voice identifier.
func NewVoiceNotAvailable(id string) *Error {
	return &Error{Kind: VoiceNotAvailable, Detail: id}
}

// NewPlaybackFailed reports an audio output failure.
func NewPlaybackFailed(detail string) *Error {
	return &Error{Kind: PlaybackFailed, Detail: detail}
}

// NewUnknown wraps an unclassified backend failure.
func NewUnknown(detail string) *Error {
	return &Error{Kind: Unknown, Detail: detail}
}

// AsError returns err as an *Error. Values that already are (or wrap) an
// *Error are returned as such; anything else becomes Unknown. A nil err
// yields nil.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return NewUnknown(err.Error())
}
