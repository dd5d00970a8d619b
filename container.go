package silo

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Container is the live holder of resource instances for one Registry.
// It provides:
// 1) lazy instantiation with per-(name, argument) caching and singleflight deduplication
// 2) circular dependency detection across re-entrant initializer calls
// 3) lazy fork detection with per-resource fork policy
// 4) override, lock, and ordered-teardown state for the Ctl facade
//
// The cache, override table, and flags are guarded by one mutex that is
// never held while an initializer or cleanup function runs, so
// initializers may call back into the container for their dependencies.
type Container struct {
	registry *Registry

	generationOf func() string
	onCleanupErr func(name, arg string, err error)

	initialOverrides map[string]any

	mu          sync.Mutex
	generation  string
	cache       map[string]map[string]any
	overrides   map[string]InitFunc
	locked      bool
	tearingDown bool

	sf singleflight.Group
}

// ContainerOption modifies container construction.
type ContainerOption func(*Container)

// WithGeneration replaces the fork-detection predicate. The container
// compares the returned marker on every access and treats a change as a
// fork boundary. The default marker is the process id.
func WithGeneration(fn func() string) ContainerOption {
	return func(c *Container) { c.generationOf = fn }
}

// WithCleanupErrorHandler installs a hook receiving cleanup failures
// from the fork-recovery pass. Teardown failures are additionally
// returned from Ctl.Cleanup. The default hook discards them.
func WithCleanupErrorHandler(fn func(name, arg string, err error)) ContainerOption {
	return func(c *Container) { c.onCleanupErr = fn }
}

// WithOverrides installs initial overrides, exactly as Ctl.Override
// would. Values that are not InitFunc become constant initializers.
func WithOverrides(pairs map[string]any) ContainerOption {
	return func(c *Container) { c.initialOverrides = pairs }
}

func NewContainer(registry *Registry, opts ...ContainerOption) (*Container, error) {
	if registry == nil {
		return nil, fmt.Errorf("new container: registry is nil")
	}

	c := &Container{
		registry: registry,
		generationOf: func() string {
			return strconv.Itoa(os.Getpid())
		},
		onCleanupErr: func(string, string, error) {},
		cache:        make(map[string]map[string]any),
		overrides:    make(map[string]InitFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.generation = c.generationOf()

	if len(c.initialOverrides) > 0 {
		if err := c.Ctl().Override(context.Background(), c.initialOverrides); err != nil {
			return nil, fmt.Errorf("new container: %w", err)
		}
		c.initialOverrides = nil
	}
	return c, nil
}

// Registry returns the registry this container was built from.
func (c *Container) Registry() *Registry {
	return c.registry
}

// Get returns the resource instance for (name, argument), building and
// caching it on first use. The optional argument must be a single
// scalar (string, fmt.Stringer, or integer).
func (c *Container) Get(ctx context.Context, name string, args ...any) (any, error) {
	return c.resolve(ctx, name, args, false)
}

// Fresh builds a new instance every time and never reads or writes the
// cache. Intended for one-off instances that must not interfere with
// the shared ones.
func (c *Container) Fresh(ctx context.Context, name string, args ...any) (any, error) {
	return c.resolve(ctx, name, args, true)
}

// Cached returns the cached instance for (name, argument) without ever
// initializing one.
func (c *Container) Cached(name string, args ...any) (any, bool) {
	spec, ok := c.registry.Lookup(name)
	if !ok {
		return nil, false
	}
	arg, err := normalizeArg(spec, args)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache[name][arg]
	return v, ok
}

// GetAs is a typed wrapper around Container.Get.
func GetAs[T any](ctx context.Context, c *Container, name string, args ...any) (T, error) {
	v, err := c.Get(ctx, name, args...)
	return castResource[T](name, v, err)
}

// FreshAs is a typed wrapper around Container.Fresh.
func FreshAs[T any](ctx context.Context, c *Container, name string, args ...any) (T, error) {
	v, err := c.Fresh(ctx, name, args...)
	return castResource[T](name, v, err)
}

func castResource[T any](name string, v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, TypeMismatchError{
			Resource: name,
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Actual:   fmt.Sprintf("%T", v),
		}
	}
	return typed, nil
}

func (c *Container) resolve(ctx context.Context, name string, args []any, fresh bool) (any, error) {
	spec, ok := c.registry.Lookup(name)
	if !ok {
		return nil, UnknownResourceError{Resource: name}
	}
	arg, err := normalizeArg(spec, args)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.checkFork(ctx)

	useCache := !fresh && !spec.IgnoreCache

	if useCache {
		c.mu.Lock()
		cached, hit := c.cache[name][arg]
		c.mu.Unlock()
		if hit {
			return cached, nil
		}
	}

	k := key{name: name, arg: arg}
	withStack, err := pushPendingStack(ctx, k)
	if err != nil {
		return nil, err
	}

	if !useCache {
		return c.build(withStack, spec, k)
	}

	v, err, _ := c.sf.Do(k.String(), func() (any, error) {
		c.mu.Lock()
		cached, hit := c.cache[name][arg]
		c.mu.Unlock()
		if hit {
			return cached, nil
		}

		built, err := c.build(withStack, spec, k)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if !c.tearingDown {
			slots := c.cache[name]
			if slots == nil {
				slots = make(map[string]any)
				c.cache[name] = slots
			}
			slots[arg] = built
		}
		c.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// build runs the active initializer and PostInit. The cache is written
// by the caller only after both succeed, so a failed resolution leaves
// the cache exactly as it was.
func (c *Container) build(ctx context.Context, spec *Spec, k key) (any, error) {
	c.mu.Lock()
	override, overridden := c.overrides[k.name]
	if c.locked && !spec.Derived && !overridden {
		c.mu.Unlock()
		return nil, LockedModeError{Resource: k.name}
	}
	if c.tearingDown {
		c.mu.Unlock()
		return nil, TeardownInProgressError{Resource: k.name}
	}
	c.mu.Unlock()

	init := spec.Init
	if overridden {
		init = override
	}

	v, err := init(ctx, c, k.name, k.arg)
	if err != nil {
		return nil, fmt.Errorf("init resource %s: %w", k.String(), err)
	}
	if spec.PostInit != nil {
		v, err = spec.PostInit(ctx, c, v)
		if err != nil {
			return nil, fmt.Errorf("post-init resource %s: %w", k.String(), err)
		}
	}
	return v, nil
}

// checkFork runs the fork-recovery pass when the generation marker has
// changed since the container last ran. The marker is updated under the
// mutex before any cleanup runs, so the pass fires exactly once per
// fork; cleanups themselves run unlocked and are best-effort.
func (c *Container) checkFork(ctx context.Context) {
	current := c.generationOf()

	c.mu.Lock()
	if current == c.generation {
		c.mu.Unlock()
		return
	}
	c.generation = current

	type eviction struct {
		k  key
		v  any
		fn CleanupFunc
	}
	var evicted []eviction
	for _, name := range c.registry.Names() {
		slots := c.cache[name]
		if len(slots) == 0 {
			continue
		}
		spec, ok := c.registry.Lookup(name)
		if ok && spec.ForkSafe {
			continue
		}
		for _, arg := range sortedArgs(slots) {
			var fn CleanupFunc
			if ok {
				fn = spec.ForkCleanup
				if fn == nil {
					fn = spec.Cleanup
				}
			}
			evicted = append(evicted, eviction{k: key{name: name, arg: arg}, v: slots[arg], fn: fn})
		}
		delete(c.cache, name)
	}
	c.mu.Unlock()

	for _, e := range evicted {
		if e.fn == nil {
			continue
		}
		if err := e.fn(ctx, e.v); err != nil {
			c.onCleanupErr(e.k.name, e.k.arg, err)
		}
	}
}

// takeSlots removes and returns all cached slots for name.
func (c *Container) takeSlots(name string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots := c.cache[name]
	delete(c.cache, name)
	return slots
}

func normalizeArg(spec *Spec, args []any) (string, error) {
	if len(args) > 1 {
		return "", ArgumentTypeError{Resource: spec.Name, Got: fmt.Sprintf("%d arguments", len(args))}
	}

	arg := ""
	if len(args) == 1 {
		scalar, ok := scalarString(args[0])
		if !ok {
			return "", ArgumentTypeError{Resource: spec.Name, Got: fmt.Sprintf("%T", args[0])}
		}
		arg = scalar
	}

	if spec.ArgCheck != nil {
		if !spec.ArgCheck(arg) {
			return "", ArgumentValidationError{Resource: spec.Name, Argument: arg}
		}
	} else if arg != "" {
		return "", ArgumentValidationError{Resource: spec.Name, Argument: arg}
	}
	return arg, nil
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	case int:
		return strconv.Itoa(s), true
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", s), true
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", s), true
	default:
		return "", false
	}
}

func sortedArgs(slots map[string]any) []string {
	out := make([]string, 0, len(slots))
	for arg := range slots {
		out = append(out, arg)
	}
	sort.Strings(out)
	return out
}

type pendingStackContextKey struct{}

// pushPendingStack records the key on the resolution chain carried by
// ctx, failing when the key is already in flight on the same chain. The
// stack lives on the context, so it unwinds with the call chain on
// every exit path.
func pushPendingStack(ctx context.Context, current key) (context.Context, error) {
	stack, _ := ctx.Value(pendingStackContextKey{}).([]key)
	for i := range stack {
		if stack[i] == current {
			pending := make([]string, 0, len(stack))
			for _, p := range stack {
				pending = append(pending, p.String())
			}
			sort.Strings(pending)
			return nil, CircularDependencyError{Key: current.String(), Pending: pending}
		}
	}
	next := make([]key, 0, len(stack)+1)
	next = append(next, stack...)
	next = append(next, current)
	return context.WithValue(ctx, pendingStackContextKey{}, next), nil
}
