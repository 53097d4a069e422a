package chaterr

import (
	"errors"
	"io"
	"testing"
)

func TestRequestErrorIs(t *testing.T) {
	tests := []struct {
		name string
		err  *RequestError
		want error
		not  error
	}{
		{"generic", &RequestError{Op: "list chats", Status: 500}, ErrRequestFailed, ErrNoAccountLink},
		{"no account link", &RequestError{Op: "list chats", Status: 403, Code: CodeNoAccountLink}, ErrNoAccountLink, ErrRequestFailed},
		{"wrapped cause", &RequestError{Op: "send", Err: io.ErrUnexpectedEOF}, io.ErrUnexpectedEOF, ErrNoAccountLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.want)
			}
			if errors.Is(tt.err, tt.not) {
				t.Errorf("errors.Is(%v, %v) = true, want false", tt.err, tt.not)
			}
		})
	}
}

func TestEmptyContentIsInvalidArgument(t *testing.T) {
	if !errors.Is(ErrEmptyContent, ErrInvalidArgument) {
		t.Error("ErrEmptyContent should wrap ErrInvalidArgument")
	}
	if !errors.Is(Invalid("conversation id %q", ""), ErrInvalidArgument) {
		t.Error("Invalid() should wrap ErrInvalidArgument")
	}
}

func TestRequestErrorMessage(t *testing.T) {
	err := &RequestError{Op: "send message", Status: 400, Code: "BAD", Message: "nope"}
	if got := err.Error(); got != "send message: HTTP 400 BAD: nope" {
		t.Errorf("Error() = %q", got)
	}
}
