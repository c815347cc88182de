package planar

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by readers.  Use errors.Is to test for them; concrete errors
// usually arrive wrapped in a *ResourceError naming the path or URL involved.
var (
	// ErrNotFound is returned when a resource path, reader id, or store node is absent.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedFormat is returned when no enabled reader can read a resource.
	ErrUnsupportedFormat = errors.New("no compatible reader")

	// ErrOpenFailure is returned when a resource exists but cannot be parsed.
	ErrOpenFailure = errors.New("unable to open")

	// ErrOutOfBounds is returned when a series or axis index lies outside the store.
	ErrOutOfBounds = errors.New("index out of bounds")

	// ErrPartialMetadata is a warning: descriptive metadata was synthesized from the
	// store structure rather than read from an authoritative document.
	ErrPartialMetadata = errors.New("metadata synthesized from store structure")
)

// ResourceError records a failed operation on a resource along with its kind
// (one of the Err* values above) and the underlying cause, if any.
type ResourceError struct {
	Op   string
	Ref  string
	Kind error
	Err  error
}

func (e *ResourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Ref, e.Kind)
	}
	return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Ref, e.Kind, e.Err)
}

func (e *ResourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError returns a *ResourceError of the given kind.
func NewError(op, ref string, kind, cause error) error {
	return &ResourceError{Op: op, Ref: ref, Kind: kind, Err: cause}
}

// NotFound returns an ErrNotFound error naming the reference.
func NotFound(op, ref string) error {
	return &ResourceError{Op: op, Ref: ref, Kind: ErrNotFound}
}

// OpenFailure returns an ErrOpenFailure error wrapping the cause.
func OpenFailure(op, ref string, cause error) error {
	return &ResourceError{Op: op, Ref: ref, Kind: ErrOpenFailure, Err: cause}
}

// OutOfBounds returns an ErrOutOfBounds error with a formatted explanation.
func OutOfBounds(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrOutOfBounds, fmt.Sprintf(format, args...))
}
