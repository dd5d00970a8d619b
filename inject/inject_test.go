package inject

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	silo "github.com/dallaylaen/resource-silo-go"
)

type reportService struct {
	db    string
	shard string
	limit int
}

func newReportService(deps []any) (*reportService, error) {
	if len(deps) != 3 {
		return nil, fmt.Errorf("want 3 dependencies, got %d", len(deps))
	}
	return &reportService{
		db:    deps[0].(string),
		shard: deps[1].(string),
		limit: deps[2].(int),
	}, nil
}

func testRegistry(t *testing.T) *silo.Registry {
	t.Helper()
	reg := silo.NewRegistry()
	reg.MustRegister(silo.Spec{Name: "database", Value: "db-main"})
	reg.MustRegister(silo.Spec{
		Name:     "shard",
		ArgCheck: silo.ArgEnum("eu", "us"),
		Init: func(_ context.Context, _ *silo.Container, _, arg string) (any, error) {
			return "shard-" + arg, nil
		},
	})
	return reg
}

func TestBuild(t *testing.T) {
	reg := testRegistry(t)
	c, err := silo.NewContainer(reg)
	require.NoError(t, err)

	svc, err := Build(context.Background(), c, newReportService,
		Resource("database"),
		ResourceArg("shard", "eu"),
		Literal(100),
	)
	require.NoError(t, err)
	assert.Equal(t, "db-main", svc.db)
	assert.Equal(t, "shard-eu", svc.shard)
	assert.Equal(t, 100, svc.limit)
}

func TestBuildPropagatesResolutionErrors(t *testing.T) {
	reg := testRegistry(t)
	c, err := silo.NewContainer(reg)
	require.NoError(t, err)

	_, err = Build(context.Background(), c, newReportService,
		Resource("database"),
		ResourceArg("shard", "mars"),
		Literal(1),
	)
	require.Error(t, err)
}

func TestNewAsSpecInit(t *testing.T) {
	reg := testRegistry(t)
	deps := []Dep{
		Resource("database"),
		ResourceArg("shard", "us"),
		Literal(10),
	}
	reg.MustRegister(silo.Spec{
		Name: "report",
		Init: New(newReportService, deps...),
		Deps: DepNames(deps...),
	})

	require.NoError(t, reg.SelfCheck())

	c, err := silo.NewContainer(reg)
	require.NoError(t, err)

	svc, err := silo.GetAs[*reportService](context.Background(), c, "report")
	require.NoError(t, err)
	assert.Equal(t, "shard-us", svc.shard)

	again, err := silo.GetAs[*reportService](context.Background(), c, "report")
	require.NoError(t, err)
	assert.Same(t, svc, again, "constructor-built resources cache like any other")
}

func TestDepNames(t *testing.T) {
	names := DepNames(
		Resource("database"),
		ResourceArg("shard", "eu"),
		ResourceArg("shard", "us"),
		Literal(1),
	)
	assert.Equal(t, []string{"database", "shard"}, names)
}
