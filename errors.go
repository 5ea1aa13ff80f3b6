package barterchat

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures by how the caller is expected to react.
type ErrorKind int

const (
	// ErrorUnknown is the zero kind.
	ErrorUnknown ErrorKind = iota

	// ErrorTransport is a socket-level failure. It is fatal to the
	// connection and drives a state transition.
	ErrorTransport

	// ErrorPayload is a malformed or unknown frame. The frame is dropped and
	// the connection is left alone.
	ErrorPayload

	// ErrorAuth means the credential is missing, expired or was rejected.
	// Consumers should start a re-login flow.
	ErrorAuth

	// ErrorRequest is a failed request/response call (history, send).
	ErrorRequest

	// ErrorConfig is an invalid client configuration.
	ErrorConfig
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorUnknown:
		return "unknown"
	case ErrorTransport:
		return "transport_error"
	case ErrorPayload:
		return "payload_error"
	case ErrorAuth:
		return "auth_error"
	case ErrorRequest:
		return "request_error"
	case ErrorConfig:
		return "config_error"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// Error is the structured error returned by the SDK.
type Error struct {
	Kind       ErrorKind
	Op         string // e.g. "connect", "history", "send"
	Message    string
	StatusCode int // HTTP status for request and handshake failures, 0 otherwise
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so sentinels like
// ErrAuthRequired match every auth failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrAuthRequired = &Error{Kind: ErrorAuth, Message: "credential required"}
	ErrTransport    = &Error{Kind: ErrorTransport, Message: "transport failure"}
	ErrRequest      = &Error{Kind: ErrorRequest, Message: "request failed"}
	ErrInvalidFrame = &Error{Kind: ErrorPayload, Message: "invalid frame"}
	ErrNotConnected = &Error{Kind: ErrorTransport, Message: "not connected"}
)

func newError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorUnknown
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return err != nil && kindOf(err) == ErrorAuth
}

// IsTransportError reports whether err is a connection-level failure.
func IsTransportError(err error) bool {
	return err != nil && kindOf(err) == ErrorTransport
}

// IsRequestError reports whether err came from a request/response call.
func IsRequestError(err error) bool {
	return err != nil && kindOf(err) == ErrorRequest
}
