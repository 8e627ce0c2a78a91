// Package claimerr defines the uniform error taxonomy shared by every
// component of the claim engine. Every fault the engine can produce maps to
// exactly one Kind; callers branch on Kind, never on message text.
package claimerr

import (
	"errors"
	"fmt"
)

// Kind is one of the eight fault categories the engine ever produces.
type Kind int

const (
	// Invalid means the input violates an invariant (dimension, namespace
	// depth, empty field, illegal status transition). Non-retryable.
	Invalid Kind = iota
	// Conflict means a duplicate unique key or an illegal transition
	// target was requested. Non-retryable.
	Conflict
	// NotFound means the referenced id does not exist.
	NotFound
	// Busy means backpressure rejected the work. Retryable with backoff.
	Busy
	// Unavailable means an external provider, or the instance itself
	// (e.g. during reindex), is not currently serving. Retryable.
	Unavailable
	// Timeout means a caller-supplied deadline was exceeded. Retryable at
	// caller discretion.
	Timeout
	// Corrupt means an inconsistency was detected between the relational
	// store and the vector index. Surfaces to callers as Unavailable but
	// is distinguishable internally to trigger a forced rebuild.
	Corrupt
	// Unsupported means the bound provider lacks the requested capability.
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Busy:
		return "busy"
	case Unavailable:
		return "unavailable"
	case Timeout:
		return "timeout"
	case Corrupt:
		return "corrupt"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Retryable reports whether callers should expect a retry (possibly after
// backoff) to eventually succeed.
func (k Kind) Retryable() bool {
	switch k {
	case Busy, Unavailable, Timeout:
		return true
	default:
		return false
	}
}

// Error wraps a Kind with operation context and an optional underlying
// cause.
type Error struct {
	Kind      Kind
	Operation string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, claimerr.KindOf(claimerr.Invalid)) style checks
// against a bare Kind value wrapped as a sentinel.
func (e *Error) Is(target error) bool {
	var k *Error
	if errors.As(target, &k) {
		return e.Kind == k.Kind
	}
	return false
}

// New constructs an *Error of the given kind for the given operation.
func New(kind Kind, operation string, cause error) *Error {
	return &Error{Kind: kind, Operation: operation, Cause: cause}
}

// Sentinel for quick errors.Is comparisons: errors.Is(err, claimerr.KindOf(Invalid)).
func KindOf(kind Kind) error { return &Error{Kind: kind} }

// Is reports whether err's Kind matches kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// InvalidErr is a convenience constructor.
func InvalidErr(operation string, cause error) *Error { return New(Invalid, operation, cause) }

// ConflictErr is a convenience constructor.
func ConflictErr(operation string, cause error) *Error { return New(Conflict, operation, cause) }

// NotFoundErr is a convenience constructor.
func NotFoundErr(operation string, cause error) *Error { return New(NotFound, operation, cause) }

// BusyErr is a convenience constructor.
func BusyErr(operation string, cause error) *Error { return New(Busy, operation, cause) }

// UnavailableErr is a convenience constructor.
func UnavailableErr(operation string, cause error) *Error { return New(Unavailable, operation, cause) }

// TimeoutErr is a convenience constructor.
func TimeoutErr(operation string, cause error) *Error { return New(Timeout, operation, cause) }

// CorruptErr is a convenience constructor.
func CorruptErr(operation string, cause error) *Error { return New(Corrupt, operation, cause) }

// UnsupportedErr is a convenience constructor.
func UnsupportedErr(operation string, cause error) *Error { return New(Unsupported, operation, cause) }
