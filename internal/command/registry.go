package command

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry maps command names to validated specs. Registration happens at
// load time; Resolve is called on every submission and is safe for concurrent
// use with Replace (hot reload).
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register adds a spec. It fails with ErrDuplicateCommand if the name is
// already present, and rejects structurally invalid specs.
func (r *Registry) Register(spec *Spec) error {
	if err := checkSpec(spec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.specs[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// Replace atomically swaps the full spec set. Used by the loader on hot
// reload so readers never observe a half-loaded registry.
func (r *Registry) Replace(specs []*Spec) error {
	next := make(map[string]*Spec, len(specs))
	for _, spec := range specs {
		if err := checkSpec(spec); err != nil {
			return err
		}
		if _, ok := next[spec.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, spec.Name)
		}
		next[spec.Name] = spec
	}

	r.mu.Lock()
	r.specs = next
	r.mu.Unlock()
	return nil
}

// Get returns the spec for name.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve validates raw against the named spec and returns a command
// instance with defaults applied and values type-coerced. It is a pure
// function over the spec and input: resolving the same input twice yields
// the same parameters.
func (r *Registry) Resolve(name string, raw map[string]any) (*Instance, error) {
	spec, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	params, err := resolveParams(spec, raw)
	if err != nil {
		return nil, err
	}

	return &Instance{
		ID:     uuid.NewString(),
		Name:   name,
		Params: params,
	}, nil
}

func checkSpec(spec *Spec) error {
	if spec == nil || spec.Name == "" {
		return fmt.Errorf("spec name must not be empty")
	}
	if spec.Factory == nil {
		return fmt.Errorf("spec %s: handler factory is required", spec.Name)
	}
	if spec.Timeout <= 0 {
		return fmt.Errorf("spec %s: timeout must be positive", spec.Name)
	}
	if spec.MaxRetries < 0 {
		return fmt.Errorf("spec %s: max retries must not be negative", spec.Name)
	}
	switch spec.Failsafe {
	case FailsafeNone, FailsafeLand, FailsafeHold, FailsafeEmergencyStop:
	case "":
		spec.Failsafe = FailsafeNone
	default:
		return fmt.Errorf("spec %s: unknown failsafe action %q", spec.Name, spec.Failsafe)
	}
	switch spec.FailsafePolicy {
	case FailsafeImmediate, FailsafeAfterRetries:
	case "":
		spec.FailsafePolicy = FailsafeImmediate
	default:
		return fmt.Errorf("spec %s: unknown failsafe policy %q", spec.Name, spec.FailsafePolicy)
	}

	// Defaults must themselves satisfy the declared constraints.
	for name, p := range spec.Params {
		if p.Default == nil {
			continue
		}
		if _, err := coerce(spec.Name, name, p, p.Default); err != nil {
			return fmt.Errorf("spec %s: default for %q invalid: %w", spec.Name, name, err)
		}
	}
	return nil
}
