package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*EngineOptions)(nil)

// EngineOptions configures the command execution engine.
type EngineOptions struct {
	// QueueDepth is the maximum number of pending command instances.
	// Submissions that would exceed it are rejected.
	QueueDepth int `json:"queue-depth" mapstructure:"queue-depth"`

	// CancelGrace is how long the engine waits for a cancelled handler to
	// acknowledge before force-finalizing the record.
	CancelGrace time.Duration `json:"cancel-grace" mapstructure:"cancel-grace"`

	// HistorySize is the number of finalized execution records retained
	// for queries before capacity eviction.
	HistorySize int `json:"history-size" mapstructure:"history-size"`
}

// NewEngineOptions creates EngineOptions with default values.
func NewEngineOptions() *EngineOptions {
	return &EngineOptions{
		QueueDepth:  32,
		CancelGrace: 5 * time.Second,
		HistorySize: 256,
	}
}

func (o *EngineOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.QueueDepth <= 0 {
		errors = append(errors, fmt.Errorf("engine.queue-depth must be positive, got %d", o.QueueDepth))
	}
	if o.CancelGrace <= 0 {
		errors = append(errors, fmt.Errorf("engine.cancel-grace must be positive, got %s", o.CancelGrace))
	}
	if o.HistorySize <= 0 {
		errors = append(errors, fmt.Errorf("engine.history-size must be positive, got %d", o.HistorySize))
	}

	return errors
}

func (o *EngineOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.QueueDepth, "engine.queue-depth", o.QueueDepth, "Maximum number of pending commands in the execution queue.")
	fs.DurationVar(&o.CancelGrace, "engine.cancel-grace", o.CancelGrace, "Grace period for a cancelled handler to acknowledge before force-finalization.")
	fs.IntVar(&o.HistorySize, "engine.history-size", o.HistorySize, "Number of finalized execution records retained for queries.")
}
