package backend

import (
	"errors"
	"fmt"
)

// ErrBackend is the sentinel all link failures match via errors.Is.
var ErrBackend = errors.New("backend error")

// Error wraps a link-specific failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports true for ErrBackend so callers can treat all link failures
// uniformly without losing the wrapped cause.
func (e *Error) Is(target error) bool { return target == ErrBackend }

// Wrap normalizes a link failure. A nil err returns nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
