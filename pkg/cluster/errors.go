package cluster

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// reporting logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// a later convergence pass. Examples: the external storage system is
	// briefly unreachable, a schema action timed out.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a task conflicts with the current
	// snapshot. Examples: an index already exists, a concurrent change won.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed task, unknown executor kind, invariant violation.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ClusterError represents a classified engine error with context.
// nolint:revive // ClusterError is intentionally named to distinguish from standard errors
type ClusterError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Kind is the executor kind involved, if applicable.
	Kind string `json:"kind,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ClusterError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("[%s] %s (kind=%s): %s", e.Class, e.Message, e.Kind, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ClusterError) Unwrap() error {
	return e.Err
}

func (e *ClusterError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *ClusterError) Is(target error) bool {
	t, ok := target.(*ClusterError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *ClusterError {
	return &ClusterError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *ClusterError {
	return &ClusterError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *ClusterError {
	return &ClusterError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithCode adds an error code to an error.
func (e *ClusterError) WithCode(code string) *ClusterError {
	e.Code = code
	return e
}

// WithKind adds executor-kind context to an error.
func (e *ClusterError) WithKind(kind string) *ClusterError {
	e.Kind = kind
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *ClusterError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *ClusterError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *ClusterError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried on a later pass.
// Transient and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// Common error codes.
const (
	ErrCodeUnknownExecutor  = "UNKNOWN_EXECUTOR"
	ErrCodeExecutorFailed   = "EXECUTOR_FAILED"
	ErrCodeExecutorPanicked = "EXECUTOR_PANICKED"
	ErrCodeMissingOutcome   = "MISSING_OUTCOME"
	ErrCodeApplierDiverged  = "APPLIER_DIVERGED"
	ErrCodePersistFailed    = "PERSIST_FAILED"
	ErrCodeEngineStopped    = "ENGINE_STOPPED"
)
