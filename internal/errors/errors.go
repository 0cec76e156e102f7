// Package errors defines the coded error taxonomy shared by the analysis pipeline.
//
// Per-file failures (IO, timeout, parse) are recoverable: the pipeline records the
// file as skipped and continues. Configuration errors are fatal and abort the run
// before any file is read. Analysis findings (cycles, drift, duplication) are never
// errors.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// IOError indicates a file could not be read
	IOError ErrorCode = "IO_ERROR"
	// Timeout indicates a per-file read exceeded its deadline
	Timeout ErrorCode = "TIMEOUT"
	// ParseError indicates syntax the grammar cannot handle
	ParseError ErrorCode = "PARSE_ERROR"
	// ConfigError indicates a missing or invalid configuration key
	ConfigError ErrorCode = "CONFIG_ERROR"
	// Cancelled indicates the run was cancelled before completion
	Cancelled ErrorCode = "CANCELLED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded error carrying the file or configuration key it concerns.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Path    string      `json:"path,omitempty"`
	Key     string      `json:"key,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Hint    string      `json:"hint,omitempty"`
	cause   error       // not exported to JSON
}

// New creates a coded error.
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Hint:    hints[code],
		cause:   cause,
	}
}

// NewIOError reports an unreadable file.
func NewIOError(path string, cause error) *Error {
	e := New(IOError, "cannot read file", cause)
	e.Path = path
	return e
}

// NewTimeoutError reports a read that exceeded the per-file deadline.
func NewTimeoutError(path string, cause error) *Error {
	e := New(Timeout, "read timed out", cause)
	e.Path = path
	return e
}

// NewParseError reports a file the grammar could not handle.
func NewParseError(path, message string, cause error) *Error {
	e := New(ParseError, message, cause)
	e.Path = path
	return e
}

// NewConfigError reports an invalid configuration key.
func NewConfigError(key, message string) *Error {
	e := New(ConfigError, message, nil)
	e.Key = key
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	subject := ""
	switch {
	case e.Key != "":
		subject = fmt.Sprintf(" (key %q)", e.Key)
	case e.Path != "":
		subject = fmt.Sprintf(" (%s)", e.Path)
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s%s: %v", e.Code, e.Message, subject, e.cause)
	}
	return fmt.Sprintf("[%s] %s%s", e.Code, e.Message, subject)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// Recoverable reports whether the pipeline may skip the affected file and continue.
func (e *Error) Recoverable() bool {
	switch e.Code {
	case IOError, Timeout, ParseError:
		return true
	default:
		return false
	}
}

// CodeOf returns the code of the first coded error in err's chain,
// or InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Code == code
}

var hints = map[ErrorCode]string{
	ConfigError: "check .tangle/config.yaml or run 'tangle config show'",
	ParseError:  "file excluded from metrics; duplicate detection falls back to text mode",
	Timeout:     "raise analysis.read_timeout or exclude the file",
}
