package silo

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forkClock drives fork detection from tests: bumping the value makes
// the container believe the process has forked.
type forkClock struct {
	n atomic.Int64
}

func (f *forkClock) marker() string {
	return fmt.Sprintf("gen-%d", f.n.Load())
}

func (f *forkClock) fork() {
	f.n.Add(1)
}

func TestForkRecoveryPolicies(t *testing.T) {
	reg := NewRegistry()
	events := make([]string, 0, 4)
	reg.MustRegister(Spec{
		Name: "normal",
		Init: func(context.Context, *Container, string, string) (any, error) {
			return "normal-value", nil
		},
		Cleanup: func(_ context.Context, v any) error {
			events = append(events, "cleanup:"+v.(string))
			return nil
		},
	})
	reg.MustRegister(Spec{
		Name: "aware",
		Init: func(context.Context, *Container, string, string) (any, error) {
			return "aware-value", nil
		},
		Cleanup: func(context.Context, any) error {
			events = append(events, "cleanup:aware-value")
			return nil
		},
		ForkCleanup: func(_ context.Context, v any) error {
			events = append(events, "fork_cleanup:"+v.(string))
			return nil
		},
	})
	safeValue := &struct{ tag string }{tag: "safe"}
	reg.MustRegister(Spec{
		Name:     "safe",
		ForkSafe: true,
		Init: func(context.Context, *Container, string, string) (any, error) {
			return safeValue, nil
		},
		Cleanup: func(context.Context, any) error {
			events = append(events, "cleanup:safe")
			return nil
		},
	})

	clock := &forkClock{}
	c, err := NewContainer(reg, WithGeneration(clock.marker))
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"normal", "aware", "safe"} {
		_, err := c.Get(ctx, name)
		require.NoError(t, err)
	}

	clock.fork()

	// First touch after the fork triggers the recovery pass.
	v, err := c.Get(ctx, "safe")
	require.NoError(t, err)
	assert.Same(t, safeValue, v, "fork-safe value keeps its identity across the fork")
	assert.Equal(t, []string{"cleanup:normal-value", "fork_cleanup:aware-value"}, events,
		"normal uses Cleanup, aware uses ForkCleanup, safe is untouched")

	_, cached := c.Cached("normal")
	assert.False(t, cached, "non-fork-safe entries are dropped")
	_, cached = c.Cached("aware")
	assert.False(t, cached)
	_, cached = c.Cached("safe")
	assert.True(t, cached)
}

func TestForkRecoveryRunsOncePerFork(t *testing.T) {
	reg := NewRegistry()
	var cleanupCount int32
	reg.MustRegister(Spec{
		Name: "conn",
		Init: func(context.Context, *Container, string, string) (any, error) {
			return "conn", nil
		},
		Cleanup: func(context.Context, any) error {
			atomic.AddInt32(&cleanupCount, 1)
			return nil
		},
	})

	clock := &forkClock{}
	c, err := NewContainer(reg, WithGeneration(clock.marker))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "conn")
	require.NoError(t, err)

	clock.fork()
	_, err = c.Get(ctx, "conn")
	require.NoError(t, err)
	_, err = c.Get(ctx, "conn")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleanupCount), "the pass fires once per fork, not per access")

	clock.fork()
	_, err = c.Fresh(ctx, "conn")
	require.NoError(t, err, "fresh also notices the fork boundary")
	assert.Equal(t, int32(2), atomic.LoadInt32(&cleanupCount))
}

func TestForkRecoveryKeepsOverridesAndLock(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Spec{Name: "mocked", Init: func(context.Context, *Container, string, string) (any, error) {
		return nil, fmt.Errorf("must not run")
	}})
	reg.MustRegister(Spec{Name: "plain", Init: func(context.Context, *Container, string, string) (any, error) {
		return "plain", nil
	}})

	clock := &forkClock{}
	c, err := NewContainer(reg, WithGeneration(clock.marker))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Ctl().Override(ctx, map[string]any{"mocked": "fake"}))
	c.Ctl().Lock()

	clock.fork()

	v, err := c.Get(ctx, "mocked")
	require.NoError(t, err)
	assert.Equal(t, "fake", v, "overrides survive the fork pass")

	_, err = c.Get(ctx, "plain")
	assert.Error(t, err, "lock state survives the fork pass")
}

func TestForkRecoveryCleanupFailuresAreReported(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Spec{
		Name: "bad",
		Init: func(context.Context, *Container, string, string) (any, error) {
			return "bad", nil
		},
		Cleanup: func(context.Context, any) error {
			return fmt.Errorf("socket already gone")
		},
	})
	var survivorCleaned int32
	reg.MustRegister(Spec{
		Name: "good",
		Init: func(context.Context, *Container, string, string) (any, error) {
			return "good", nil
		},
		Cleanup: func(context.Context, any) error {
			atomic.AddInt32(&survivorCleaned, 1)
			return nil
		},
	})

	type report struct {
		name string
		err  error
	}
	var reports []report
	clock := &forkClock{}
	c, err := NewContainer(reg,
		WithGeneration(clock.marker),
		WithCleanupErrorHandler(func(name, _ string, err error) {
			reports = append(reports, report{name: name, err: err})
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "bad")
	require.NoError(t, err)
	_, err = c.Get(ctx, "good")
	require.NoError(t, err)

	clock.fork()
	_, err = c.Get(ctx, "good")
	require.NoError(t, err)

	require.Len(t, reports, 1)
	assert.Equal(t, "bad", reports[0].name)
	assert.EqualError(t, reports[0].err, "socket already gone")
	assert.Equal(t, int32(1), atomic.LoadInt32(&survivorCleaned), "a failing cleanup does not stop the pass")
}
