package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*TelemetryOptions)(nil)

// TelemetryOptions configures the telemetry cache poller.
type TelemetryOptions struct {
	// PollInterval is the fixed interval between backend telemetry reads.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// PublishInterval is the interval between upstream MQTT publications.
	// Ignored when the MQTT publisher is disabled.
	PublishInterval time.Duration `json:"publish-interval" mapstructure:"publish-interval"`
}

// NewTelemetryOptions creates TelemetryOptions with default values (~4 Hz poll).
func NewTelemetryOptions() *TelemetryOptions {
	return &TelemetryOptions{
		PollInterval:    250 * time.Millisecond,
		PublishInterval: time.Second,
	}
}

func (o *TelemetryOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.PollInterval <= 0 {
		errors = append(errors, fmt.Errorf("telemetry.poll-interval must be positive, got %s", o.PollInterval))
	}
	if o.PublishInterval <= 0 {
		errors = append(errors, fmt.Errorf("telemetry.publish-interval must be positive, got %s", o.PublishInterval))
	}

	return errors
}

func (o *TelemetryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.PollInterval, "telemetry.poll-interval", o.PollInterval, "Fixed interval between backend telemetry polls.")
	fs.DurationVar(&o.PublishInterval, "telemetry.publish-interval", o.PublishInterval, "Interval between upstream telemetry publications.")
}
