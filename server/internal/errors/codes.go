package errors

import (
	"fmt"
)

// Kind classifies an error for propagation and transport mapping.
type Kind string

const (
	// KindUnauthorized indicates the caller does not own the resource.
	// Terminal, no retry.
	KindUnauthorized Kind = "UNAUTHORIZED"
	// KindInvalidArgument indicates malformed input. Terminal.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindLockContended indicates another holder owns the ingestion lock.
	// Expected and non-fatal; callers must not retry automatically.
	KindLockContended Kind = "LOCK_CONTENDED"
	// KindUpstreamModel indicates a model-provider failure. Surfaced to the
	// client as a stream error, not retried.
	KindUpstreamModel Kind = "UPSTREAM_MODEL"
	// KindTransport indicates the client connection failed or went away.
	// Triggers cancellation; not a user-visible error.
	KindTransport Kind = "TRANSPORT"
	// KindExtraction indicates a per-file extraction failure during
	// ingestion. Swallowed with logging at file granularity.
	KindExtraction Kind = "EXTRACTION"
	// KindInterrupted indicates the operation was cancelled mid-flight.
	KindInterrupted Kind = "INTERRUPTED"
	// KindInternal is the catch-all for unexpected failures.
	KindInternal Kind = "INTERNAL"
)

// Error is a kinded error carrying a safe, client-visible message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Unauthorized creates an ownership/authorization error.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// InvalidArgument creates a validation error.
func InvalidArgument(msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

// LockContended creates a lock-contention signal.
func LockContended(msg string) *Error {
	return &Error{Kind: KindLockContended, Message: msg}
}

// UpstreamModel wraps a model-provider failure.
func UpstreamModel(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamModel, Message: msg, Cause: cause}
}

// Transport wraps a client-connection failure.
func Transport(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Cause: cause}
}

// Extraction wraps a per-file extraction failure.
func Extraction(msg string, cause error) *Error {
	return &Error{Kind: KindExtraction, Message: msg, Cause: cause}
}

// Interrupted wraps a cancellation.
func Interrupted(cause error) *Error {
	return &Error{Kind: KindInterrupted, Message: "operation interrupted", Cause: cause}
}

// Internal wraps an unexpected failure.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

// IsKind checks whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// KindOf extracts the kind from any error, returning def when err is not an
// *Error.
func KindOf(err error, def Kind) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return def
}
