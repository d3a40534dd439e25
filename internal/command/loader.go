package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/pkg/log"
)

// Binder maps a handler name from a spec document to its factory. The set of
// handlers is a static registry; documents can only reference it, never load
// code paths at runtime.
type Binder func(handler string) (HandlerFactory, bool)

// specDocument is the YAML shape of a command spec file.
type specDocument struct {
	Commands []specEntry `yaml:"commands"`
}

type specEntry struct {
	Name           string                   `yaml:"name"`
	Version        string                   `yaml:"version"`
	Category       string                   `yaml:"category"`
	Handler        string                   `yaml:"handler"`
	TimeoutSeconds float64                  `yaml:"timeout"`
	Critical       bool                     `yaml:"critical"`
	Failsafe       string                   `yaml:"failsafe"`
	FailsafePolicy string                   `yaml:"failsafe_policy"`
	MaxRetries     int                      `yaml:"max_retries"`
	Backends       []string                 `yaml:"supported_backends"`
	Strict         bool                     `yaml:"strict"`
	Requires       []string                 `yaml:"requires"`
	Establishes    string                   `yaml:"establishes"`
	Parameters     map[string]paramDocument `yaml:"parameters"`
}

type paramDocument struct {
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Default  any      `yaml:"default"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Unit     string   `yaml:"unit"`
}

// LoadDir parses every .yaml/.yml file in dir into specs, binding handlers
// through bind. The engine depends only on the parsed form; this is the one
// place that touches spec files.
func LoadDir(dir string, bind Binder) ([]*Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read spec dir: %w", err)
	}

	var specs []*Spec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		loaded, err := loadFile(filepath.Join(dir, entry.Name()), bind)
		if err != nil {
			return nil, err
		}
		specs = append(specs, loaded...)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no command specs found in %s", dir)
	}
	return specs, nil
}

func loadFile(path string, bind Binder) ([]*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc specDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	specs := make([]*Spec, 0, len(doc.Commands))
	for _, entry := range doc.Commands {
		spec, err := entry.toSpec(bind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (e specEntry) toSpec(bind Binder) (*Spec, error) {
	handlerName := e.Handler
	if handlerName == "" {
		handlerName = e.Name
	}
	factory, ok := bind(handlerName)
	if !ok {
		return nil, fmt.Errorf("command %s: no handler registered for %q", e.Name, handlerName)
	}

	requires := make([]backend.VehicleState, 0, len(e.Requires))
	for _, s := range e.Requires {
		state, err := parseState(s)
		if err != nil {
			return nil, fmt.Errorf("command %s: %w", e.Name, err)
		}
		requires = append(requires, state)
	}

	var establishes backend.VehicleState
	if e.Establishes != "" {
		state, err := parseState(e.Establishes)
		if err != nil {
			return nil, fmt.Errorf("command %s: %w", e.Name, err)
		}
		establishes = state
	}

	params := make(map[string]ParamSpec, len(e.Parameters))
	for name, p := range e.Parameters {
		params[name] = ParamSpec{
			Type:     ParamType(p.Type),
			Required: p.Required,
			Default:  p.Default,
			Min:      p.Min,
			Max:      p.Max,
			Unit:     p.Unit,
		}
	}

	return &Spec{
		Name:           e.Name,
		Category:       e.Category,
		Version:        e.Version,
		Params:         params,
		Strict:         e.Strict,
		Timeout:        time.Duration(e.TimeoutSeconds * float64(time.Second)),
		MaxRetries:     e.MaxRetries,
		Critical:       e.Critical,
		Failsafe:       FailsafeAction(e.Failsafe),
		FailsafePolicy: FailsafePolicy(e.FailsafePolicy),
		Backends:       e.Backends,
		Requires:       requires,
		Establishes:    establishes,
		Factory:        factory,
	}, nil
}

func parseState(s string) (backend.VehicleState, error) {
	state := backend.VehicleState(strings.ToLower(s))
	switch state {
	case backend.StateDisconnected, backend.StateConnected, backend.StateArmed,
		backend.StateFlying, backend.StateLanding:
		return state, nil
	}
	return "", fmt.Errorf("unknown vehicle state %q", s)
}

// Watch reloads the registry whenever a spec file in dir changes. A failed
// reload keeps the previous registry contents; the error is logged and the
// watcher keeps running. Returns when ctx is done.
func Watch(ctx context.Context, dir string, reg *Registry, bind Binder) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spec watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Editors fire bursts of events per save; debounce before reloading.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			pending = time.After(200 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "Spec watcher error", "dir", dir)

		case <-pending:
			pending = nil
			specs, err := LoadDir(dir, bind)
			if err != nil {
				log.Error(err, "Spec reload failed, keeping previous registry", "dir", dir)
				continue
			}
			if err := reg.Replace(specs); err != nil {
				log.Error(err, "Spec reload rejected, keeping previous registry", "dir", dir)
				continue
			}
			log.Info("Command specs reloaded", "dir", dir, "commands", len(specs))
		}
	}
}
