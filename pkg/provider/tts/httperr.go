package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// FromHTTPStatus classifies a non-success HTTP status returned by a
// synthesis backend.
func FromHTTPStatus(status int, detail string) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthenticationFailed
	case status == http.StatusTooManyRequests:
		return ErrRateLimitExceeded
	case status >= 500:
		return NewUnknown(fmt.Sprintf("server error %d: %s", status, detail))
	default:
		return NewUnknown(fmt.Sprintf("status %d: %s", status, detail))
	}
}

// FromTransport classifies an error from dialing or talking to a backend.
// Context cancellation maps to Cancelled; everything else is treated as the
// network being unavailable.
func FromTransport(err error) *Error {
	if err == nil {
		return nil
	}
	if te := (*Error)(nil); errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return ErrNetworkUnavailable
}
