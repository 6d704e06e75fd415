package input

import (
	"errors"
	"fmt"
)

var (
	// ErrTripleMismatch indicates a reconstructed triple violates a·b = c.
	// It means an engine is faulty or dishonest; the run must stop.
	ErrTripleMismatch = errors.New("input: triple check failed")

	// ErrMalformedBatch indicates an engine payload of the wrong size or
	// encoding.
	ErrMalformedBatch = errors.New("input: malformed engine payload")

	// ErrInvalidParameter indicates an invalid argument.
	ErrInvalidParameter = errors.New("input: invalid parameter")
)

// TripleError reports the first triple of a batch that failed verification.
// Index counts values within the current send call.
type TripleError struct {
	Index int
}

func (e *TripleError) Error() string {
	return fmt.Sprintf("%v at value %d", ErrTripleMismatch, e.Index)
}

func (e *TripleError) Is(target error) bool {
	return target == ErrTripleMismatch
}

// Error wraps an underlying error with the failing operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("input.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errorf(op string, format string, args ...any) error {
	return &Error{
		Op:  op,
		Err: fmt.Errorf(format, args...),
	}
}
