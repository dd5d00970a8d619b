package silo

import (
	"context"
	"regexp"
)

// InitFunc builds one resource instance. The container passes itself so
// the initializer can resolve its own dependencies re-entrantly; ctx must
// be forwarded to those nested Get calls for cycle detection to work.
type InitFunc func(ctx context.Context, c *Container, name, arg string) (any, error)

// CleanupFunc releases a previously built instance.
type CleanupFunc func(ctx context.Context, v any) error

// PostInitFunc validates or transforms a freshly built (or overridden)
// value before it is cached. Its return value becomes the final value.
type PostInitFunc func(ctx context.Context, c *Container, v any) (any, error)

// Spec is the immutable description of one resource kind. It is owned by
// the Registry once registered and must not be mutated afterwards.
type Spec struct {
	// Name uniquely identifies the resource within a Registry.
	Name string

	// Init builds the instance. Required unless Value is set; mutually
	// exclusive with Value.
	Init InitFunc

	// Value declares a pure literal resource. The registry wraps it into
	// a constant initializer.
	Value any

	// ArgCheck validates the instantiation argument. When nil only the
	// empty argument is accepted.
	ArgCheck func(arg string) bool

	// Cleanup releases the cached instance on normal eviction.
	Cleanup CleanupFunc

	// ForkCleanup, when set, runs instead of Cleanup for evictions caused
	// by a detected fork.
	ForkCleanup CleanupFunc

	// ForkSafe marks the cached value as shareable across a fork: the
	// entry is kept as-is and no cleanup runs.
	ForkSafe bool

	// CleanupOrder sorts resources during full teardown; lower runs
	// first. Ties are broken by registration order.
	CleanupOrder float64

	// IgnoreCache re-runs Init on every access and never caches. The
	// cleanup family and a nonzero CleanupOrder are rejected on such
	// specs.
	IgnoreCache bool

	// Derived resources add no side effect of their own and may be
	// instantiated while the container is locked.
	Derived bool

	// Preload includes the resource in the eager preload pass.
	Preload bool

	// PostInit runs after Init (or an override) and before caching.
	PostInit PostInitFunc

	// Deps lists dependency resource names for SelfCheck and the
	// exported graph. Purely declarative; Init still resolves them.
	Deps []string

	// Requires lists external requirements probed by SelfCheck.
	Requires []string
}

// ArgPattern returns an argument validator accepting full matches of re.
func ArgPattern(re *regexp.Regexp) func(string) bool {
	return func(arg string) bool {
		loc := re.FindStringIndex(arg)
		return loc != nil && loc[0] == 0 && loc[1] == len(arg)
	}
}

// ArgEnum returns an argument validator accepting exactly the given values.
func ArgEnum(values ...string) func(string) bool {
	allowed := make(map[string]struct{}, len(values))
	for _, v := range values {
		allowed[v] = struct{}{}
	}
	return func(arg string) bool {
		_, ok := allowed[arg]
		return ok
	}
}

// key identifies one cache slot.
type key struct {
	name string
	arg  string
}

func (k key) String() string {
	if k.arg == "" {
		return k.name
	}
	return k.name + "[" + k.arg + "]"
}
