package silo

import (
	"context"
	"os/exec"
	"regexp"
	"sync"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedNames are container and control operation names a resource
// must not shadow.
var reservedNames = map[string]struct{}{
	"get":             {},
	"fresh":           {},
	"cached":          {},
	"ctl":             {},
	"override":        {},
	"clear_overrides": {},
	"lock":            {},
	"unlock":          {},
	"set_cache":       {},
	"preload":         {},
	"cleanup":         {},
}

// Registry owns the set of resource specifications. Registration order
// is preserved; it decides preload order and teardown tie-breaking.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
	order []string

	requireProbe func(requirement string) error
}

// RegistryOption modifies registry behavior.
type RegistryOption func(*Registry)

// WithRequireProbe sets the probe used by SelfCheck to verify Requires
// entries. The default probe looks the requirement up in PATH.
func WithRequireProbe(probe func(requirement string) error) RegistryOption {
	return func(r *Registry) { r.requireProbe = probe }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		specs: make(map[string]*Spec),
		requireProbe: func(requirement string) error {
			_, err := exec.LookPath(requirement)
			return err
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds one resource specification. The spec is copied; later
// mutation of the argument does not affect the registry.
func (r *Registry) Register(spec Spec) error {
	if !identRE.MatchString(spec.Name) {
		return InvalidSpecError{Resource: spec.Name, Field: "Name", Reason: "not a valid identifier"}
	}
	if _, reserved := reservedNames[spec.Name]; reserved {
		return ReservedNameError{Resource: spec.Name}
	}
	if spec.Init == nil && spec.Value == nil {
		return InvalidSpecError{Resource: spec.Name, Field: "Init", Reason: "either Init or Value is required"}
	}
	if spec.Init != nil && spec.Value != nil {
		return InvalidSpecError{Resource: spec.Name, Field: "Value", Reason: "Init and Value are mutually exclusive"}
	}
	if spec.IgnoreCache {
		switch {
		case spec.Cleanup != nil:
			return InvalidSpecError{Resource: spec.Name, Field: "Cleanup", Reason: "meaningless with IgnoreCache"}
		case spec.ForkCleanup != nil:
			return InvalidSpecError{Resource: spec.Name, Field: "ForkCleanup", Reason: "meaningless with IgnoreCache"}
		case spec.ForkSafe:
			return InvalidSpecError{Resource: spec.Name, Field: "ForkSafe", Reason: "meaningless with IgnoreCache"}
		case spec.CleanupOrder != 0:
			return InvalidSpecError{Resource: spec.Name, Field: "CleanupOrder", Reason: "meaningless with IgnoreCache"}
		}
	}

	stored := spec
	if stored.Init == nil {
		literal := stored.Value
		stored.Init = func(_ context.Context, _ *Container, _, _ string) (any, error) {
			return literal, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[stored.Name]; exists {
		return DuplicateResourceError{Resource: stored.Name}
	}
	r.specs[stored.Name] = &stored
	r.order = append(r.order, stored.Name)
	return nil
}

// MustRegister panics on registration error; intended for bootstrap code paths.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Lookup returns the specification registered under name.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns all registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// PreloadList returns the preload-flagged names in registration order.
func (r *Registry) PreloadList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, name := range r.order {
		if r.specs[name].Preload {
			names = append(names, name)
		}
	}
	return names
}

// SelfCheck verifies that every declared dependency is itself registered
// and that every external requirement passes the probe. It reports the
// first violation.
func (r *Registry) SelfCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		spec := r.specs[name]
		for _, dep := range spec.Deps {
			if _, ok := r.specs[dep]; !ok {
				return MissingDependencyError{Resource: name, Dependency: dep}
			}
		}
		for _, req := range spec.Requires {
			if err := r.requireProbe(req); err != nil {
				return UnloadableDependencyError{Resource: name, Requirement: req, Err: err}
			}
		}
	}
	return nil
}
