package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// CommandsTotal counts finalized command executions by terminal status.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_commands_total",
			Help: "Total number of finalized command executions.",
		},
		[]string{"command", "status"}, // status: completed/failed/cancelled
	)

	// CommandDuration observes wall-clock execution time per command.
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flightdeck_command_duration_seconds",
			Help:    "Wall-clock duration of command executions.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"command"},
	)

	// QueueDepth tracks the number of pending command instances.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightdeck_queue_depth",
			Help: "Number of pending command instances in the execution queue.",
		},
	)

	// TelemetryAge tracks the age of the latest telemetry snapshot.
	TelemetryAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightdeck_telemetry_age_seconds",
			Help: "Age of the latest cached telemetry snapshot.",
		},
	)

	// TelemetryPollMisses counts failed backend telemetry polls.
	TelemetryPollMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_telemetry_poll_misses_total",
			Help: "Total number of failed backend telemetry polls.",
		},
	)

	// FailsafeTriggered counts failsafe invocations by action.
	FailsafeTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_failsafe_triggered_total",
			Help: "Total number of failsafe actions triggered by critical command failures.",
		},
		[]string{"action"},
	)
)

// Registry is the project-wide metrics registry served on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		CommandsTotal,
		CommandDuration,
		QueueDepth,
		TelemetryAge,
		TelemetryPollMisses,
		FailsafeTriggered,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
