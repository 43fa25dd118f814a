// Package nexerr defines the core's error taxonomy: tagged sum-type
// values carrying a Kind the job layer and agent engine use to decide
// retry vs dead-letter vs surfaced-to-caller, mirroring the classified
// ProviderError pattern used for LLM provider failures.
package nexerr

import (
	"errors"
	"fmt"
)

// Kind classifies a core error for retry/propagation decisions. It is a
// closed set matching the taxonomy every component reports against.
type Kind string

const (
	ValidationError  Kind = "validation_error"
	PermissionError  Kind = "permission_error"
	NotFound         Kind = "not_found"
	Timeout          Kind = "timeout"
	PoolExhausted    Kind = "pool_exhausted"
	ExecutionFailure Kind = "execution_failure"
	Infrastructure   Kind = "infrastructure"
)

// Retryable reports whether the job queue should schedule another attempt
// for an error of this kind. ValidationError, PermissionError, NotFound,
// and ExecutionFailure are never retried: the condition that produced
// them will not change on a retry.
func (k Kind) Retryable() bool {
	switch k {
	case Timeout, PoolExhausted, Infrastructure:
		return true
	default:
		return false
	}
}

// Error is the core's tagged error value. Every boundary (sandbox,
// jobqueue, execution, agent) returns errors wrapped with New so callers
// can branch on Kind without string matching.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		if e.Component != "" {
			return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a tagged Error. component names the owning package
// ("sandbox", "jobqueue", "execution", "agent", ...) for log correlation.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap tags an existing error with a Kind, preserving it as Cause.
func Wrap(kind Kind, component string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Cause: cause}
}

// As extracts a *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something in its chain) is a
// *Error, or Infrastructure otherwise — an unclassified failure is
// treated as retryable infrastructure noise rather than silently
// swallowed.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Infrastructure
}

// Retryable reports whether err should be retried at the job-queue layer.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
