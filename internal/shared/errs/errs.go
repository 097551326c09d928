// Package errs defines the error taxonomy shared by the realtime layer.
//
// Authorization failures are reported synchronously to the requester and never
// mutate state; subprocess and runtime failures surface asynchronously through
// push events. Codes are stable wire values consumed by clients.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error for the wire protocol.
type Code string

const (
	// CodeAuth covers handshake rejection: bad, missing, or expired credential.
	CodeAuth Code = "AUTH_ERROR"
	// CodeAccessDenied covers room access and terminal ownership violations.
	CodeAccessDenied Code = "ACCESS_DENIED"
	// CodeNotInitialized covers operations referencing a session that was
	// never created or already torn down.
	CodeNotInitialized Code = "NOT_INITIALIZED"
	// CodeSpawnFailure means a terminal subprocess could not start.
	CodeSpawnFailure Code = "SPAWN_FAILURE"
	// CodeInternal is an unexpected fault.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded error suitable for direct serialization to a client.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a coded error.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Auth creates an AUTH_ERROR.
func Auth(format string, args ...interface{}) *Error {
	return New(CodeAuth, format, args...)
}

// AccessDenied creates an ACCESS_DENIED error.
func AccessDenied(format string, args ...interface{}) *Error {
	return New(CodeAccessDenied, format, args...)
}

// NotInitialized creates a NOT_INITIALIZED error.
func NotInitialized(format string, args ...interface{}) *Error {
	return New(CodeNotInitialized, format, args...)
}

// SpawnFailure creates a SPAWN_FAILURE error.
func SpawnFailure(format string, args ...interface{}) *Error {
	return New(CodeSpawnFailure, format, args...)
}

// Internal creates an INTERNAL error.
func Internal(format string, args ...interface{}) *Error {
	return New(CodeInternal, format, args...)
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
