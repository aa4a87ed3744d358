// Package errdefs defines the typed errors surfaced by the execution core.
//
// Every failure a caller can act on maps to one of five kinds:
// configuration, validation, query execution, timeout, or process. The
// workflow layer switches on the kind to decide what to persist and what to
// tell the requester; nothing in the core retries automatically.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the workflow layer.
type Kind string

const (
	// KindConfiguration marks malformed instance or credential configuration. Never retried.
	KindConfiguration Kind = "ConfigurationError"
	// KindValidation marks content rejected before any side effect. Safe to resubmit after edits.
	KindValidation Kind = "ValidationError"
	// KindQueryExecution marks a backend rejecting or failing the operation.
	KindQueryExecution Kind = "QueryExecutionError"
	// KindTimeout marks a sandbox deadline being enforced.
	KindTimeout Kind = "TimeoutError"
	// KindProcess marks an abnormal sandbox exit, spawn failure, or unparsable worker output.
	KindProcess Kind = "ProcessError"
)

// Error is a typed core error.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration returns a new configuration error.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Validation returns a new validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// QueryExecution returns a new query execution error wrapping the backend cause.
func QueryExecution(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindQueryExecution, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Timeout returns a new timeout error.
func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// Process returns a new process error wrapping the cause (may be nil).
func Process(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindProcess, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of err, or an empty kind for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}
