package topic

import (
	"fmt"
)

// Constants defining the standard topic segments.
// These act as the protocol contract between the agent and any upstream
// consumer. Changing these values breaks existing subscribers.
const (
	// SuffixTelemetry carries periodic telemetry snapshots (Agent -> Cloud).
	// Structure: {root}/telemetry/{vehicleID}
	SuffixTelemetry = "telemetry"

	// SuffixStatus carries execution-record status transitions (Agent -> Cloud).
	// Structure: {root}/status/{vehicleID}
	SuffixStatus = "status"

	// SuffixOnline carries the retained online/offline flag, also used as
	// the will topic. Structure: {root}/online/{vehicleID}
	SuffixOnline = "online"
)

// Builder encapsulates the logic for constructing MQTT topic strings.
type Builder struct {
	// root is the base namespace for all topics (e.g. "flightdeck/v1").
	root string
}

// NewBuilder creates a new Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Telemetry returns the topic for a vehicle's telemetry snapshots.
func (b *Builder) Telemetry(vehicleID string) string {
	return b.build(SuffixTelemetry, vehicleID)
}

// Status returns the topic for a vehicle's execution-status transitions.
func (b *Builder) Status(vehicleID string) string {
	return b.build(SuffixStatus, vehicleID)
}

// Online returns the retained online/offline topic for a vehicle.
func (b *Builder) Online(vehicleID string) string {
	return b.build(SuffixOnline, vehicleID)
}

// TelemetryWildcard returns the filter matching all vehicles' telemetry.
// Result: {root}/telemetry/+
func (b *Builder) TelemetryWildcard() string {
	return b.build(SuffixTelemetry, "+")
}

// StatusWildcard returns the filter matching all vehicles' status updates.
// Result: {root}/status/+
func (b *Builder) StatusWildcard() string {
	return b.build(SuffixStatus, "+")
}

// build constructs the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *Builder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
