// Package errors provides the structured error system for tierstore with a
// small closed taxonomy of kinds, retryability hints, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error. Every failure that crosses a component boundary
// is wrapped into exactly one of these; raw backend or driver error types
// never leak past the adapter that produced them.
type Kind string

const (
	// KindNotFound means the referenced file id (or backend object) does
	// not exist. Not retryable.
	KindNotFound Kind = "NOT_FOUND"

	// KindBackendUnavailable means an adapter I/O failure: connection
	// refused, 5xx, transport error. Retryable.
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"

	// KindTimeout means a bounded backend call exceeded its deadline.
	// Retryable.
	KindTimeout Kind = "TIMEOUT"

	// KindInvalidInput means the caller supplied something malformed: a
	// bad TTL, an immutable field in a patch, an empty payload. Terminal.
	KindInvalidInput Kind = "INVALID_INPUT"

	// KindConsistencyConflict means an optimistic-concurrency check
	// failed during a placement swap. Retryable after re-reading.
	KindConsistencyConflict Kind = "CONSISTENCY_CONFLICT"

	// KindQuotaExceeded means a catalog or backend storage limit was hit.
	KindQuotaExceeded Kind = "QUOTA_EXCEEDED"

	// KindInternal covers faults that do not map to any caller-actionable
	// kind. Retryable by default, on the assumption they are transient.
	KindInternal Kind = "INTERNAL"
)

// StorageError is the structured error that crosses component boundaries.
type StorageError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Details   map[string]string `json:"details,omitempty"`

	Cause     error     `json:"-"` // not serialized, reachable via Unwrap
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Kind, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can compare against sentinel errors built
// with New(kind, ...).
func (e *StorageError) Is(target error) bool {
	if se, ok := target.(*StorageError); ok {
		return e.Kind == se.Kind
	}
	return false
}

// Retryable reports whether a caller should retry with backoff.
func (e *StorageError) Retryable() bool {
	switch e.Kind {
	case KindBackendUnavailable, KindTimeout, KindConsistencyConflict, KindInternal:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the kind onto an HTTP response code for the gateway's
// HTTP surface.
func (e *StorageError) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return 404
	case KindInvalidInput:
		return 400
	case KindConsistencyConflict:
		return 409
	case KindQuotaExceeded:
		return 429
	case KindTimeout:
		return 504
	case KindBackendUnavailable:
		return 503
	default:
		return 500
	}
}

// JSON renders the error for structured logging or an HTTP body.
func (e *StorageError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"kind":"%s","message":%q}`, e.Kind, e.Message)
	}
	return string(data)
}

// String returns a verbose single-line representation for logs.
func (e *StorageError) String() string {
	parts := []string{
		fmt.Sprintf("Kind=%s", e.Kind),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable() {
		parts = append(parts, "Retryable=true")
	}
	for k, v := range e.Details {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("StorageError{%s}", strings.Join(parts, ", "))
}

// New creates a StorageError of the given kind.
func New(kind Kind, message string) *StorageError {
	return &StorageError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a StorageError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *StorageError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates a StorageError of the given kind around a cause. A nil cause
// yields a plain error of that kind.
func Wrap(kind Kind, cause error, message string) *StorageError {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithComponent tags the error with the originating component.
func (e *StorageError) WithComponent(component string) *StorageError {
	e.Component = component
	return e
}

// WithOperation tags the error with the operation that failed.
func (e *StorageError) WithOperation(operation string) *StorageError {
	e.Operation = operation
	return e
}

// WithDetail attaches one key/value pair of diagnostic context.
func (e *StorageError) WithDetail(key, value string) *StorageError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the kind from any error. Wrapped StorageErrors are found
// through the Unwrap chain; everything else reports KindInternal.
func KindOf(err error) Kind {
	var se *StorageError
	if As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var se *StorageError
	if As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsRetryable reports whether err is worth retrying with backoff. Errors
// that are not StorageErrors are treated as non-retryable: the failure mode
// is unknown, so retrying could repeat a non-idempotent effect.
func IsRetryable(err error) bool {
	var se *StorageError
	if As(err, &se) {
		return se.Retryable()
	}
	return false
}
