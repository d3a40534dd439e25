// Package command holds validated command specifications and turns raw
// submissions into executable command instances. The registry is loaded once
// from the spec documents at startup and optionally hot-reloaded; specs are
// immutable after registration.
package command

import (
	"context"
	"time"

	"github.com/flightdeck-io/flightdeck/internal/backend"
)

// ParamType is the declared type of a command parameter.
type ParamType string

const (
	ParamFloat  ParamType = "float"
	ParamInt    ParamType = "int"
	ParamString ParamType = "string"
	ParamBool   ParamType = "bool"
)

// ParamSpec declares a single parameter: its type, default, and constraints.
type ParamSpec struct {
	Type     ParamType
	Required bool
	Default  any
	Min      *float64
	Max      *float64
	Unit     string
}

// FailsafeAction is the safe fallback maneuver triggered when a critical
// command cannot complete.
type FailsafeAction string

const (
	FailsafeNone          FailsafeAction = "none"
	FailsafeLand          FailsafeAction = "land"
	FailsafeHold          FailsafeAction = "hold"
	FailsafeEmergencyStop FailsafeAction = "emergency_stop"
)

// FailsafePolicy orders the failsafe action relative to retries for critical
// commands.
type FailsafePolicy string

const (
	// FailsafeImmediate triggers the failsafe on the first failure, skipping
	// retries entirely.
	FailsafeImmediate FailsafePolicy = "immediate"

	// FailsafeAfterRetries exhausts MaxRetries first and triggers the
	// failsafe only when the final attempt fails.
	FailsafeAfterRetries FailsafePolicy = "after_retries"
)

// Spec is an immutable command specification. It is created at registry load
// time and looked up by name.
type Spec struct {
	Name     string
	Category string
	Version  string

	Params map[string]ParamSpec

	// Strict rejects unknown parameters instead of ignoring them.
	Strict bool

	Timeout    time.Duration
	MaxRetries int

	Critical       bool
	Failsafe       FailsafeAction
	FailsafePolicy FailsafePolicy

	// Backends lists the backend kinds this command supports. Empty means
	// all backends.
	Backends []string

	// Requires lists the vehicle states the command may start from. Empty
	// means no precondition.
	Requires []backend.VehicleState

	// Establishes is the vehicle state a successful run leaves behind, used
	// by admission to validate orderings like [takeoff, goto]. Empty means
	// the state is unchanged.
	Establishes backend.VehicleState

	// Factory builds the handler executing this command.
	Factory HandlerFactory
}

// SupportsBackend reports whether the spec supports the given backend kind.
func (s *Spec) SupportsBackend(kind string) bool {
	if len(s.Backends) == 0 {
		return true
	}
	for _, b := range s.Backends {
		if b == kind {
			return true
		}
	}
	return false
}

// Params is a resolved, typed parameter mapping.
type Params map[string]any

// Float returns the named float parameter, or 0 if absent.
func (p Params) Float(name string) float64 {
	v, _ := p[name].(float64)
	return v
}

// Int returns the named int parameter, or 0 if absent.
func (p Params) Int(name string) int {
	v, _ := p[name].(int)
	return v
}

// String returns the named string parameter, or "" if absent.
func (p Params) String(name string) string {
	v, _ := p[name].(string)
	return v
}

// Bool returns the named bool parameter, or false if absent.
func (p Params) Bool(name string) bool {
	v, _ := p[name].(bool)
	return v
}

// Instance is a validated, defaulted command ready for admission. Immutable
// once created.
type Instance struct {
	// ID uniquely identifies this instance.
	ID string `json:"id"`

	// Name is the spec name this instance resolves to.
	Name string `json:"name"`

	// SubmissionID identifies the owning submission.
	SubmissionID string `json:"submissionId"`

	// Seq is the position within the submission's sequence.
	Seq int `json:"seq"`

	// Params holds the resolved parameters.
	Params Params `json:"params"`
}

// Result is the structured outcome a handler returns on success.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// TelemetryReader is the view of the telemetry cache handlers poll during
// movement verification. It never blocks on the backend.
type TelemetryReader interface {
	// Latest returns the newest snapshot, its age, and whether any snapshot
	// has been produced yet.
	Latest() (backend.TelemetrySnapshot, time.Duration, bool)
}

// Env provides a handler the capabilities it may use during execution.
type Env struct {
	Backend   backend.Backend
	Telemetry TelemetryReader

	// Report publishes handler progress in [0, 1]. Always non-nil.
	Report func(progress float64)
}

// Handler executes one command against the backend. The engine cancels ctx to
// request cooperative cancellation; handlers must check it at safe points and
// return promptly.
type Handler interface {
	Execute(ctx context.Context, env Env, params Params) (*Result, error)
}

// HandlerFactory builds a fresh handler per execution attempt.
type HandlerFactory func() Handler

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env Env, params Params) (*Result, error)

func (f HandlerFunc) Execute(ctx context.Context, env Env, params Params) (*Result, error) {
	return f(ctx, env, params)
}
