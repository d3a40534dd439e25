package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BackendOptions)(nil)

// BackendOptions selects and configures the vehicle-link backend.
type BackendOptions struct {
	// Kind is the backend implementation to use. Currently "sim" is the
	// only shipped backend; hardware links register additional kinds.
	Kind string `json:"kind" mapstructure:"kind"`

	// VehicleID identifies the vehicle this agent commands.
	VehicleID string `json:"vehicle-id" mapstructure:"vehicle-id"`

	// SpecDir is the directory holding command spec YAML documents.
	SpecDir string `json:"spec-dir" mapstructure:"spec-dir"`

	// WatchSpecs enables hot-reload of command specs on file changes.
	WatchSpecs bool `json:"watch-specs" mapstructure:"watch-specs"`
}

// NewBackendOptions creates BackendOptions with default values.
func NewBackendOptions() *BackendOptions {
	return &BackendOptions{
		Kind:       "sim",
		VehicleID:  "fd-sim-001",
		SpecDir:    "configs",
		WatchSpecs: false,
	}
}

func (o *BackendOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Kind == "" {
		errors = append(errors, fmt.Errorf("backend.kind must not be empty"))
	}
	if o.VehicleID == "" {
		errors = append(errors, fmt.Errorf("backend.vehicle-id must not be empty"))
	}

	return errors
}

func (o *BackendOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Kind, "backend.kind", o.Kind, "Vehicle-link backend implementation to use.")
	fs.StringVar(&o.VehicleID, "backend.vehicle-id", o.VehicleID, "Identifier of the vehicle this agent commands.")
	fs.StringVar(&o.SpecDir, "backend.spec-dir", o.SpecDir, "Directory holding command spec YAML documents.")
	fs.BoolVar(&o.WatchSpecs, "backend.watch-specs", o.WatchSpecs, "Hot-reload command specs when the spec directory changes.")
}
