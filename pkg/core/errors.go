package core

import (
	"fmt"
)

// Error represents a categorized assistant error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrPermissionDenied means the OS or user refused capture device access.
	// User-recoverable; reported, never retried automatically.
	ErrPermissionDenied ErrorType = "permission_denied"
	// ErrConnect means the remote conversation stream failed to open.
	ErrConnect ErrorType = "connect_error"
	// ErrProtocol means a malformed or unexpected inbound stream message.
	// Forces session teardown.
	ErrProtocol ErrorType = "protocol_error"
	// ErrExtraction means a structured-extraction call failed or returned
	// unparsable data. Degrades the affected analysis stage to a no-op.
	ErrExtraction ErrorType = "extraction_error"
	// ErrDecode means a malformed audio payload. The segment is dropped
	// and the session continues.
	ErrDecode ErrorType = "decode_error"
)

// NewPermissionDeniedError creates a permission denied error.
func NewPermissionDeniedError(message string, cause error) *Error {
	return &Error{Type: ErrPermissionDenied, Message: message, Cause: cause}
}

// NewConnectError creates a connect error.
func NewConnectError(message string, cause error) *Error {
	return &Error{Type: ErrConnect, Message: message, Cause: cause}
}

// NewProtocolError creates a protocol error.
func NewProtocolError(message string, cause error) *Error {
	return &Error{Type: ErrProtocol, Message: message, Cause: cause}
}

// NewExtractionError creates an extraction error.
func NewExtractionError(message string, cause error) *Error {
	return &Error{Type: ErrExtraction, Message: message, Cause: cause}
}

// NewDecodeError creates a decode error.
func NewDecodeError(message string, cause error) *Error {
	return &Error{Type: ErrDecode, Message: message, Cause: cause}
}

// IsType reports whether err (or anything it wraps) is a *Error of the
// given type.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			return ce.Type == t
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
