// Package syncerr implements the standardized error taxonomy shared
// across the synchronization core: one type carrying a stable Code and
// an explicit Retryable flag the engine reads directly instead of
// re-deriving it from string matching.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a taxonomy bucket.
type Code string

const (
	// ConfigurationMissing — credentials incomplete or absent; non-retryable.
	ConfigurationMissing Code = "CONFIGURATION_MISSING"
	// TransportFailure — DNS/TCP/TLS/read; retryable at the queue level.
	TransportFailure Code = "TRANSPORT_FAILURE"
	// ServerError — HTTP 429 or 5xx; retryable.
	ServerError Code = "SERVER_ERROR"
	// SessionError — HTTP 403 or session-expired body.
	SessionError Code = "SESSION_ERROR"
	// ProtocolFault — 2xx with an RPC-level error; non-retryable by default.
	ProtocolFault Code = "PROTOCOL_FAULT"
	// ValidationError — bad input at the module boundary; non-retryable.
	ValidationError Code = "VALIDATION_ERROR"
	// UnknownModule — job references a module not registered; terminal.
	UnknownModule Code = "UNKNOWN_MODULE"
)

// defaultRetryable is the taxonomy's baseline retryability, overridable
// per error via WithRetryable so modules can classify specific remote
// messages as retryable.
var defaultRetryable = map[Code]bool{
	ConfigurationMissing: false,
	TransportFailure:      true,
	ServerError:           true,
	SessionError:          true,
	ProtocolFault:         false,
	ValidationError:       false,
	UnknownModule:         false,
}

// Error is a taxonomy-tagged error carrying its own retryability.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error

	// StatusCode is the originating HTTP status, when applicable (0 if none).
	StatusCode int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the engine should schedule a retry.
func (e *Error) IsRetryable() bool { return e.Retryable }

// New builds an Error for code with the taxonomy's default retryability.
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: defaultRetryable[code],
		Cause:     cause,
	}
}

// WithRetryable overrides the default retryability, used by modules
// classifying a specific remote ProtocolFault message as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	clone := *e
	clone.Retryable = retryable
	return &clone
}

// WithStatusCode attaches the originating HTTP status code.
func (e *Error) WithStatusCode(code int) *Error {
	clone := *e
	clone.StatusCode = code
	return &clone
}

// IsRetryable reports whether err, or any *Error wrapped inside it, is
// marked retryable. A plain (non-tagged) error is treated as non-retryable,
// matching the engine's "everything else propagates" default.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// CodeOf extracts the taxonomy Code of err, or "" if err is not tagged.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// sessionPatterns are the whole-token / substring matches used to
// recognise a session error out of an opaque transport message:
// "session expired", "session_expired", "odoo session", "http 403",
// "403 forbidden", or a raw HTTP 403 status.
var sessionPatterns = []string{
	"session expired",
	"session_expired",
	"odoo session",
	"http 403",
	"403 forbidden",
}

// IsSessionError reports whether statusCode or msg indicates a session
// error. It never matches a business-level "access denied" message,
// which is deliberately excluded so it is never misclassified as
// retryable session recovery.
func IsSessionError(statusCode int, msg string) bool {
	if statusCode == 403 {
		return true
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "access denied") {
		return false
	}
	for _, pattern := range sessionPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
