// Package rcferrors classifies the failure kinds the core surfaces, per
// the error handling design: invalid arguments, exhausted capacity, and
// invariant violations are all fatal to the caller's operation, but a
// caller catching a panic or inspecting a returned error still wants to
// know which kind it was without string-matching a message.
package rcferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why a core operation failed.
type Kind int

const (
	// InvalidArgument covers out-of-range dimensions, mismatched point
	// lengths, negative capacities, and malformed configuration.
	InvalidArgument Kind = iota
	// OutOfCapacity covers a PointStore that cannot grow and cannot
	// compact its way to free space. A node store that runs out of
	// handles panics via Fatalf with InvariantViolation instead.
	OutOfCapacity
	// InvariantViolation covers double-free, release-of-unallocated,
	// decrement-below-zero, and sampler/tree count mismatches. These
	// indicate the core's own bookkeeping is corrupted.
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case OutOfCapacity:
		return "out_of_capacity"
	case InvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can
// errors.As into it instead of matching on message text.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds a classified error, wrapping msg with a stack trace via
// pkg/errors so the first frame of a panic recovery still points at the
// caller.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap classifies an existing error without discarding its stack/cause
// chain.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Fatalf panics with an InvariantViolation error. It is reserved for
// conditions considered programming errors: double-free, deleting a
// handle the tree never held, a sampler/tree count mismatch. These are
// never expected in correct use and are not meant to be recovered from
// in normal operation, only to be caught at a supervisory boundary
// (e.g. a per-tree goroutine in ForestExecutor) for attribution before
// the process is torn down.
func Fatalf(format string, args ...interface{}) {
	panic(New(InvariantViolation, fmt.Sprintf(format, args...)))
}
