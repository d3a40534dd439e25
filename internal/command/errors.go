package command

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateCommand is returned when registering a spec whose name is
	// already present.
	ErrDuplicateCommand = errors.New("duplicate command")

	// ErrUnknownCommand is returned when resolving a name with no spec.
	ErrUnknownCommand = errors.New("unknown command")
)

// ValidationError reports a parameter that failed validation, naming the
// offending field and the violated constraint.
type ValidationError struct {
	Command    string
	Field      string
	Constraint string
	Value      any
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("command %s: parameter %q %s (got %v)", e.Command, e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("command %s: parameter %q %s", e.Command, e.Field, e.Constraint)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
