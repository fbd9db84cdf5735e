// File: fault.go
// Title: Structured Errors
// Description: Error type carrying a code, a severity and optional details.
//              Wraps causes so errors.Is and errors.As keep working.
// Author: Mike Stoffels
// Created: 2026-10-19

package fault

import (
	"errors"
	"fmt"
)

// Severity represents the impact of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is the structured error used throughout the bridge
type Error struct {
	message  string
	cause    error
	code     Code
	severity Severity
	details  map[string]interface{}
}

// New creates an error with CodeUnknown
func New(message string) *Error {
	return &Error{
		message:  message,
		code:     CodeUnknown,
		severity: SeverityMedium,
	}
}

// Newf creates an error from a format string
func Newf(format string, args ...interface{}) *Error {
	return New(fmt.Sprintf(format, args...))
}

// Wrap wraps err with a message. The code of a wrapped *Error is inherited.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{
		message:  message,
		cause:    err,
		code:     CodeUnknown,
		severity: SeverityMedium,
	}
	var inner *Error
	if errors.As(err, &inner) {
		wrapped.code = inner.code
		wrapped.severity = inner.severity
	}
	return wrapped
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		if e.message == "" {
			return e.cause.Error()
		}
		return fmt.Sprintf("%s: %s", e.message, e.cause.Error())
	}
	return e.message
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by code, so sentinel faults work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code != CodeUnknown && e.code == t.code
}

// WithCode sets the code and the code's default severity
func (e *Error) WithCode(code Code) *Error {
	e.code = code
	e.severity = code.Severity()
	return e
}

// WithSeverity overrides the severity
func (e *Error) WithSeverity(severity Severity) *Error {
	e.severity = severity
	return e
}

// WithDetail attaches a key/value detail
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.details == nil {
		e.details = make(map[string]interface{})
	}
	e.details[key] = value
	return e
}

// Code returns the error code
func (e *Error) Code() Code {
	return e.code
}

// Severity returns the severity
func (e *Error) Severity() Severity {
	return e.severity
}

// Message returns the message without the cause chain
func (e *Error) Message() string {
	return e.message
}

// Details returns a copy of the attached details
func (e *Error) Details() map[string]interface{} {
	out := make(map[string]interface{}, len(e.details))
	for k, v := range e.details {
		out[k] = v
	}
	return out
}

// GetCode returns the code of the first *Error in the chain, or CodeUnknown
func GetCode(err error) Code {
	var f *Error
	if errors.As(err, &f) {
		return f.code
	}
	return CodeUnknown
}

// HasCode reports whether the first *Error in the chain carries code
func HasCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

// HTTPStatus returns the HTTP status for err
func HTTPStatus(err error) int {
	return GetCode(err).HTTPStatus()
}
