// Package options composes the full flag and config surface of the agent.
package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/flightdeck-io/flightdeck/internal/agent"
	"github.com/flightdeck-io/flightdeck/pkg/log"
	"github.com/flightdeck-io/flightdeck/pkg/options"
)

// AgentOptions aggregates every option group of the agent binary.
type AgentOptions struct {
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	EngineOptions    *options.EngineOptions    `json:"engine" mapstructure:"engine"`
	TelemetryOptions *options.TelemetryOptions `json:"telemetry" mapstructure:"telemetry"`
	BackendOptions   *options.BackendOptions   `json:"backend" mapstructure:"backend"`
	Log              *log.Options              `json:"log" mapstructure:"log"`

	// ConfigFile is an optional YAML file merged under the command-line
	// flags via viper.
	ConfigFile string
}

// NewAgentOptions creates AgentOptions with default values.
func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		HttpOptions:      options.NewHttpOptions(),
		MqttOptions:      options.NewMqttOptions(),
		S3Options:        options.NewS3Options(),
		EngineOptions:    options.NewEngineOptions(),
		TelemetryOptions: options.NewTelemetryOptions(),
		BackendOptions:   options.NewBackendOptions(),
		Log:              log.NewOptions(),
	}
}

// AddFlags registers every option group on fs.
func (o *AgentOptions) AddFlags(fs *pflag.FlagSet) {
	o.HttpOptions.AddFlags(fs)
	o.MqttOptions.AddFlags(fs)
	o.S3Options.AddFlags(fs)
	o.EngineOptions.AddFlags(fs)
	o.TelemetryOptions.AddFlags(fs)
	o.BackendOptions.AddFlags(fs)
	o.Log.AddFlags(fs)

	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to a YAML configuration file.")
}

// Complete merges the config file, if given, into the option groups. Flags
// set explicitly on the command line win.
func (o *AgentOptions) Complete(fs *pflag.FlagSet) error {
	if o.ConfigFile == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(o.ConfigFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", o.ConfigFile, err)
	}

	if err := v.Unmarshal(o); err != nil {
		return fmt.Errorf("parse config %s: %w", o.ConfigFile, err)
	}

	// Re-apply explicit flags so command-line values take precedence over
	// the file.
	var reapply []error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := fs.Set(f.Name, f.Value.String()); err != nil {
			reapply = append(reapply, err)
		}
	})
	if len(reapply) > 0 {
		return reapply[0]
	}
	return nil
}

// Validate checks every option group and aggregates the failures.
func (o *AgentOptions) Validate() error {
	var errs []error
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.EngineOptions.Validate()...)
	errs = append(errs, o.TelemetryOptions.Validate()...)
	errs = append(errs, o.BackendOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Config hands the validated option groups to the agent constructor.
func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		HttpOptions:      o.HttpOptions,
		MqttOptions:      o.MqttOptions,
		S3Options:        o.S3Options,
		EngineOptions:    o.EngineOptions,
		TelemetryOptions: o.TelemetryOptions,
		BackendOptions:   o.BackendOptions,
	}, nil
}
