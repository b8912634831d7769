package chat

import (
	"errors"
	"fmt"
)

const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternal       = "INTERNAL_ERROR"
)

var (
	// ErrInvalidRequest marks failures caused by the caller's input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstream marks a failed remote completion call.
	ErrUpstream = errors.New("upstream completion failed")
)

// RequestError is a client error carrying a machine-readable code. Message is
// safe to show to the caller.
type RequestError struct {
	Code    string
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidRequest}
	}
	return []error{ErrInvalidRequest, e.Err}
}

func invalidMessage() error {
	return &RequestError{Code: CodeInvalidMessage, Message: "Message cannot be empty"}
}

func invalidRequest(msg string, err error) error {
	return &RequestError{Code: CodeInvalidRequest, Message: msg, Err: err}
}

// UpstreamError wraps the cause of a failed provider call.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}
