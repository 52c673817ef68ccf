// Package errs defines the failure kinds shared by the storage engine layers.
//
// Every error returned by the allocator, the buffer pool and the heap layer
// matches exactly one kind with errors.Is, and still unwraps to its cause.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrResourceExhausted means the backing store could not be extended.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrIO means a backing file could not be opened, mapped, read or written.
	ErrIO = errors.New("i/o failure")

	// ErrProtocol means a caller broke the pin/release or alloc/dealloc contract,
	// or asked for a frame while every frame is pinned.
	ErrProtocol = errors.New("protocol violation")

	// ErrConsistency means an internal invariant does not hold.
	ErrConsistency = errors.New("consistency violation")
)

// Error carries the failed operation, its kind and the underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an error of the given kind with a formatted cause.
func New(kind error, op string, format string, args ...interface{}) error {
	return &Error{Op: op, Kind: kind, Err: errors.Errorf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// IO wraps err as an i/o failure of op.
func IO(op string, err error) error {
	return Wrap(ErrIO, op, err)
}

// Protocol reports a contract violation by the caller.
func Protocol(op string, format string, args ...interface{}) error {
	return New(ErrProtocol, op, format, args...)
}

// Exhausted reports that storage could not grow.
func Exhausted(op string, err error) error {
	return Wrap(ErrResourceExhausted, op, err)
}

// Consistency reports a broken invariant. Builds tagged enginedebug panic
// instead of returning.
func Consistency(op string, format string, args ...interface{}) error {
	err := New(ErrConsistency, op, format, args...)
	if Debug {
		panic(err)
	}
	return err
}

func IsIO(err error) bool          { return errors.Is(err, ErrIO) }
func IsProtocol(err error) bool    { return errors.Is(err, ErrProtocol) }
func IsConsistency(err error) bool { return errors.Is(err, ErrConsistency) }
func IsExhausted(err error) bool   { return errors.Is(err, ErrResourceExhausted) }
