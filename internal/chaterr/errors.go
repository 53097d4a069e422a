// Package chaterr defines the error taxonomy shared by the sync components.
package chaterr

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable means the streaming channel is not connected.
	// It triggers the REST fallback and is not user-facing by itself.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrRequestFailed covers non-2xx, undecodable, or success:false REST responses.
	ErrRequestFailed = errors.New("request failed")

	// ErrInvalidArgument is returned before any network call is made.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyContent is returned for blank message content or when a send is
	// already in flight for the conversation.
	ErrEmptyContent = fmt.Errorf("%w: empty content", ErrInvalidArgument)

	// ErrNoAccountLink is a domain precondition failure. Read operations turn it
	// into an empty result with a reason instead of an error.
	ErrNoAccountLink = errors.New("no linked account")
)

// CodeNoAccountLink is the backend error code mapped to ErrNoAccountLink.
const CodeNoAccountLink = "NO_ACCOUNT_LINK"

// RequestError describes a failed REST call.
type RequestError struct {
	Op      string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: HTTP %d %s: %s", e.Op, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, msg)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is.
func (e *RequestError) Unwrap() []error {
	sentinel := ErrRequestFailed
	if e.Code == CodeNoAccountLink {
		sentinel = ErrNoAccountLink
	}
	if e.Err != nil {
		return []error{sentinel, e.Err}
	}
	return []error{sentinel}
}

// Invalid wraps ErrInvalidArgument with a description of the offending field.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
