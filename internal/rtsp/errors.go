package rtsp

import (
	"errors"
	"fmt"
)

// Sentinel errors for session control. Callers distinguish them with
// errors.Is.
var (
	ErrNoSession     = errors.New("rtsp: no session")
	ErrClosed        = errors.New("rtsp: client closed")
	ErrMissingHeader = errors.New("rtsp: missing response header")
)

// ProtocolError reports a response that completed but cannot be used: a
// non-OK status, or an OK status without a required header.
type ProtocolError struct {
	Method string
	Status StatusCode
	// Header names the missing header, if any.
	Header string
}

func (e *ProtocolError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("rtsp: %s response has no %s header", e.Method, e.Header)
	}
	return fmt.Sprintf("rtsp: %s returned %d %s", e.Method, int(e.Status), e.Status)
}

func (e *ProtocolError) Unwrap() error {
	if e.Header != "" {
		return ErrMissingHeader
	}
	return nil
}

// TransportError wraps a failure to connect, send or receive on the
// control connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rtsp: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FormatError reports a header or status line that could not be parsed.
type FormatError struct {
	Field string
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("rtsp: malformed %s %q", e.Field, e.Value)
}
