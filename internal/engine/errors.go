package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/flightdeck-io/flightdeck/internal/backend"
)

var (
	// ErrQueueFull rejects a submission that would exceed the queue depth.
	ErrQueueFull = errors.New("queue full")

	// ErrNotFound is returned for queries on unknown record IDs.
	ErrNotFound = errors.New("record not found")

	// ErrTimeout marks an execution that exceeded its declared timeout.
	ErrTimeout = errors.New("timeout exceeded")

	// ErrCancelled marks an execution interrupted by override or explicit
	// cancellation.
	ErrCancelled = errors.New("cancelled")
)

// PreconditionError rejects a submission whose command cannot start from the
// vehicle state it would run in.
type PreconditionError struct {
	Command string
	State   backend.VehicleState
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s cannot start from state %s", e.Command, e.State)
}

// Error codes recorded on failed execution records.
const (
	CodeBackend      = "BACKEND_ERROR"
	CodeTimeout      = "TIMEOUT_EXCEEDED"
	CodeCancelled    = "CANCELLED"
	CodePrecondition = "PRECONDITION_FAILED"
	CodeInternal     = "INTERNAL"
)

// classify maps an execution error to a stable record error code.
func classify(err error) string {
	switch {
	case errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, backend.ErrBackend):
		return CodeBackend
	default:
		var pe *PreconditionError
		if errors.As(err, &pe) {
			return CodePrecondition
		}
		return CodeInternal
	}
}
