package silo

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Ctl is the administrative facade for one container. It holds no state
// of its own; it exists so administrative operations do not crowd the
// resource-access surface.
type Ctl struct {
	c *Container
}

// Ctl returns the administrative facade for this container.
func (c *Container) Ctl() *Ctl {
	return &Ctl{c: c}
}

// Override replaces the initializers of the named resources. Values
// that are not initializer functions become constant initializers.
// Cached entries of each overridden name are evicted first with normal
// cleanup semantics; eviction failures are collected but do not stop
// the remaining overrides from being installed.
func (ct *Ctl) Override(ctx context.Context, pairs map[string]any) error {
	c := ct.c
	names := make([]string, 0, len(pairs))
	for name := range pairs {
		if _, ok := c.registry.Lookup(name); !ok {
			return UnknownResourceError{Resource: name}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		spec, _ := c.registry.Lookup(name)
		errs = append(errs, ct.evictName(ctx, spec)...)

		init := coerceInit(pairs[name])
		c.mu.Lock()
		c.overrides[name] = init
		c.mu.Unlock()
	}
	return errors.Join(errs...)
}

// ClearOverrides removes all overrides, evicting cached entries of the
// overridden names so the next access runs the real initializer.
func (ct *Ctl) ClearOverrides(ctx context.Context) error {
	c := ct.c
	c.mu.Lock()
	names := make([]string, 0, len(c.overrides))
	for name := range c.overrides {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if spec, ok := c.registry.Lookup(name); ok {
			errs = append(errs, ct.evictName(ctx, spec)...)
		}
		c.mu.Lock()
		delete(c.overrides, name)
		c.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Lock forbids instantiation of resources that are neither derived nor
// overridden. Cached instances remain accessible.
func (ct *Ctl) Lock() *Ctl {
	ct.c.mu.Lock()
	ct.c.locked = true
	ct.c.mu.Unlock()
	return ct
}

// Unlock lifts a previous Lock.
func (ct *Ctl) Unlock() *Ctl {
	ct.c.mu.Lock()
	ct.c.locked = false
	ct.c.mu.Unlock()
	return ct
}

// SetCache populates or clears cache slots directly, without running
// the initializer. The payload is one of:
//   - nil: clear every slot of the named resource
//   - []any{v}: seed the no-argument slot with v
//   - map[string]any: seed argument -> value pairs
//
// Seeding lets a resource whose initializer needs some of its own state
// bootstrap: pre-seed the slot, then let the initializer enrich it.
func (ct *Ctl) SetCache(name string, payload any) error {
	c := ct.c
	spec, ok := c.registry.Lookup(name)
	if !ok {
		return UnknownResourceError{Resource: name}
	}
	if spec.IgnoreCache {
		return InvalidCacheValueError{Resource: name, Reason: "resource never caches"}
	}

	seed := make(map[string]any)
	switch p := payload.(type) {
	case nil:
		c.mu.Lock()
		delete(c.cache, name)
		c.mu.Unlock()
		return nil
	case []any:
		if len(p) != 1 {
			return InvalidCacheValueError{Resource: name, Reason: fmt.Sprintf("want exactly one element, got %d", len(p))}
		}
		if spec.ArgCheck != nil && !spec.ArgCheck("") {
			return ArgumentValidationError{Resource: name, Argument: ""}
		}
		seed[""] = p[0]
	case map[string]any:
		for arg, v := range p {
			if spec.ArgCheck != nil {
				if !spec.ArgCheck(arg) {
					return ArgumentValidationError{Resource: name, Argument: arg}
				}
			} else if arg != "" {
				return ArgumentValidationError{Resource: name, Argument: arg}
			}
			seed[arg] = v
		}
	default:
		return InvalidCacheValueError{Resource: name, Reason: fmt.Sprintf("unsupported payload type %T", payload)}
	}

	c.mu.Lock()
	slots := c.cache[name]
	if slots == nil {
		slots = make(map[string]any)
		c.cache[name] = slots
	}
	for arg, v := range seed {
		slots[arg] = v
	}
	c.mu.Unlock()
	return nil
}

// Preload eagerly instantiates every preload-flagged resource in
// registration order and surfaces the first failure.
func (ct *Ctl) Preload(ctx context.Context) error {
	for _, name := range ct.c.registry.PreloadList() {
		if _, err := ct.c.Get(ctx, name); err != nil {
			return fmt.Errorf("preload resource %q: %w", name, err)
		}
	}
	return nil
}

// Cleanup tears the container down: every cached instance is released
// with its normal cleanup function, resources sorted by ascending
// CleanupOrder (registration order breaks ties). Cleanup failures are
// collected; the pass always finishes and empties the cache. Once begun,
// the container refuses further instantiation. Repeat calls are no-ops.
func (ct *Ctl) Cleanup(ctx context.Context) error {
	c := ct.c

	c.mu.Lock()
	if c.tearingDown {
		c.mu.Unlock()
		return nil
	}
	c.tearingDown = true
	cache := c.cache
	c.cache = make(map[string]map[string]any)
	c.mu.Unlock()

	regIndex := make(map[string]int)
	for i, name := range c.registry.Names() {
		regIndex[name] = i
	}

	names := make([]string, 0, len(cache))
	for name := range cache {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		var oi, oj float64
		if spec, ok := c.registry.Lookup(names[i]); ok {
			oi = spec.CleanupOrder
		}
		if spec, ok := c.registry.Lookup(names[j]); ok {
			oj = spec.CleanupOrder
		}
		if oi != oj {
			return oi < oj
		}
		return regIndex[names[i]] < regIndex[names[j]]
	})

	var errs []error
	for _, name := range names {
		spec, ok := c.registry.Lookup(name)
		if !ok || spec.Cleanup == nil {
			continue
		}
		slots := cache[name]
		for _, arg := range sortedArgs(slots) {
			if err := spec.Cleanup(ctx, slots[arg]); err != nil {
				k := key{name: name, arg: arg}
				errs = append(errs, fmt.Errorf("cleanup resource %s: %w", k.String(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// evictName removes every cached slot of one resource, running its
// normal cleanup on each. Returns one error per failed slot.
func (ct *Ctl) evictName(ctx context.Context, spec *Spec) []error {
	slots := ct.c.takeSlots(spec.Name)
	if len(slots) == 0 || spec.Cleanup == nil {
		return nil
	}
	var errs []error
	for _, arg := range sortedArgs(slots) {
		if err := spec.Cleanup(ctx, slots[arg]); err != nil {
			k := key{name: spec.Name, arg: arg}
			errs = append(errs, fmt.Errorf("cleanup resource %s: %w", k.String(), err))
		}
	}
	return errs
}

func coerceInit(v any) InitFunc {
	switch fn := v.(type) {
	case InitFunc:
		return fn
	case func(ctx context.Context, c *Container, name, arg string) (any, error):
		return fn
	default:
		return func(context.Context, *Container, string, string) (any, error) {
			return v, nil
		}
	}
}
