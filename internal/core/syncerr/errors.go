// Package syncerr defines the failure kinds shared by the synchronization
// components. Callers wrap a kind with context using fmt.Errorf("...: %w")
// and test for it with errors.Is.
package syncerr

import "errors"

var (
	// ErrPermission: a non-authority attempted an authority-only operation.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound: unknown scene name or unregistered event type.
	ErrNotFound = errors.New("not found")
	// ErrTimeout: a barrier was not satisfied in time.
	ErrTimeout = errors.New("timed out")
	// ErrConflict: a request for the same scene (or any transition) is already in flight.
	ErrConflict = errors.New("conflict")
	// ErrLoad: the underlying scene load failed.
	ErrLoad = errors.New("load failed")
	// ErrInvalidArgument: a value violates a documented bound.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind is the short machine-readable name of a failure kind.
type Kind string

const (
	KindNone            Kind = ""
	KindPermission      Kind = "PERMISSION"
	KindNotFound        Kind = "NOT_FOUND"
	KindTimeout         Kind = "TIMEOUT"
	KindConflict        Kind = "CONFLICT"
	KindLoad            Kind = "LOAD_FAILED"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindUnknown         Kind = "UNKNOWN"
)

// KindOf classifies err. A nil error has KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPermission):
		return KindPermission
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrLoad):
		return KindLoad
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	default:
		return KindUnknown
	}
}
