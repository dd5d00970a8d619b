// Package inject builds plain values from named container resources.
//
// It is a thin convenience layer on top of silo.Container.Get for the
// common case of a constructor taking a fixed list of dependencies:
// declare each input as a resource name, a (name, argument) pair, or a
// literal, and inject resolves them in order before invoking the
// constructor. Nothing here touches container internals.
package inject

import (
	"context"

	silo "github.com/dallaylaen/resource-silo-go"
)

// Dep selects one constructor input.
type Dep struct {
	name    string
	arg     string
	value   any
	literal bool
}

// Resource selects the no-argument instance of a named resource.
func Resource(name string) Dep {
	return Dep{name: name}
}

// ResourceArg selects the instance of a named resource for one argument.
func ResourceArg(name, arg string) Dep {
	return Dep{name: name, arg: arg}
}

// Literal passes v through untouched.
func Literal(v any) Dep {
	return Dep{value: v, literal: true}
}

// Build resolves deps in order and passes them to ctor.
func Build[T any](ctx context.Context, c *silo.Container, ctor func(deps []any) (T, error), deps ...Dep) (T, error) {
	var zero T
	vals := make([]any, 0, len(deps))
	for _, d := range deps {
		if d.literal {
			vals = append(vals, d.value)
			continue
		}
		var (
			v   any
			err error
		)
		if d.arg == "" {
			v, err = c.Get(ctx, d.name)
		} else {
			v, err = c.Get(ctx, d.name, d.arg)
		}
		if err != nil {
			return zero, err
		}
		vals = append(vals, v)
	}
	return ctor(vals)
}

// New wraps Build into an initializer, so constructor-built resources
// can be registered like any other.
func New[T any](ctor func(deps []any) (T, error), deps ...Dep) silo.InitFunc {
	return func(ctx context.Context, c *silo.Container, _, _ string) (any, error) {
		return Build(ctx, c, ctor, deps...)
	}
}

// DepNames lists the resource names referenced by deps, in order and
// without duplicates. Useful for filling Spec.Deps on registration.
func DepNames(deps ...Dep) []string {
	seen := make(map[string]struct{}, len(deps))
	var names []string
	for _, d := range deps {
		if d.literal {
			continue
		}
		if _, dup := seen[d.name]; dup {
			continue
		}
		seen[d.name] = struct{}{}
		names = append(names, d.name)
	}
	return names
}
