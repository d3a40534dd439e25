// Package backend defines the vehicle-link capability surface the engine
// commands through. Concrete links (the simulator, a MAVLink bridge) implement
// Backend; the engine and the telemetry cache are the only callers.
package backend

import (
	"context"
	"time"
)

// VehicleState is the coarse lifecycle state of the vehicle link.
type VehicleState string

const (
	StateDisconnected VehicleState = "disconnected"
	StateConnected    VehicleState = "connected"
	StateArmed        VehicleState = "armed"
	StateFlying       VehicleState = "flying"
	StateLanding      VehicleState = "landing"
)

// Position is a point in the local NED frame relative to the takeoff origin.
// Down is negative above the origin.
type Position struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	Down  float64 `json:"down"`
}

// Attitude is the vehicle orientation in degrees.
type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Velocity is the vehicle velocity in the NED frame, m/s.
type Velocity struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	Down  float64 `json:"down"`
}

// Health groups the subsystem health flags reported by the flight controller.
type Health struct {
	GyroOK     bool `json:"gyroOk"`
	AccelOK    bool `json:"accelOk"`
	MagOK      bool `json:"magOk"`
	LocalPosOK bool `json:"localPosOk"`
}

// TelemetrySnapshot is a single consistent, timestamped readout of vehicle
// sensors and state. Snapshots are immutable once produced.
type TelemetrySnapshot struct {
	Timestamp      time.Time    `json:"timestamp"`
	Position       Position     `json:"position"`
	Attitude       Attitude     `json:"attitude"`
	Velocity       Velocity     `json:"velocity"`
	BatteryPercent float64      `json:"batteryPercent"`
	GPSFix         int          `json:"gpsFix"`
	Armed          bool         `json:"armed"`
	FlightMode     string       `json:"flightMode"`
	State          VehicleState `json:"state"`
	Health         Health       `json:"health"`
}

// Backend is the southbound vehicle-link contract. Every call may fail with a
// link-specific error; callers wrap those uniformly as a BackendError.
// Implementations must tolerate interleaved calls from the telemetry poller
// and a long-running command handler.
type Backend interface {
	// Connect establishes the vehicle link.
	Connect(ctx context.Context) error

	// Arm arms the vehicle for flight.
	Arm(ctx context.Context) error

	// Takeoff climbs to the given altitude in meters above the origin.
	Takeoff(ctx context.Context, altitude float64) error

	// Land descends and lands at the current position.
	Land(ctx context.Context) error

	// Goto flies to pos at the given speed (m/s), returning once the vehicle
	// is within tolerance meters of the target.
	Goto(ctx context.Context, pos Position, speed, tolerance float64) error

	// ReturnToLaunch flies back to the takeoff origin and lands.
	ReturnToLaunch(ctx context.Context) error

	// Hold stops and holds the current position.
	Hold(ctx context.Context) error

	// VehicleState reads the coarse vehicle state.
	VehicleState(ctx context.Context) (VehicleState, error)

	// Telemetry reads a full telemetry snapshot.
	Telemetry(ctx context.Context) (TelemetrySnapshot, error)
}
