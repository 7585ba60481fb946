package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mknight/arbiter/internal/config"
	"github.com/mknight/arbiter/internal/registry"
)

func newTestRouter() *Router {
	return New(config.Defaults().Router)
}

func TestRouteDeterministic(t *testing.T) {
	r := newTestRouter()
	reg := registry.Builtin()

	inputs := []string{
		"analyze the session store",
		"create a dashboard and deploy it to production",
		strings.Repeat("refactor everything ", 60),
	}
	for _, in := range inputs {
		first, err := r.Route(in, reg)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			got, err := r.Route(in, reg)
			require.NoError(t, err)
			assert.Equal(t, first, got, "routing of %q must be reproducible", in)
		}
	}
}

func TestRouteEmptyRegistry(t *testing.T) {
	r := newTestRouter()
	empty, err := registry.New(registry.Manifest{})
	require.NoError(t, err)

	_, err = r.Route("anything", empty)
	assert.ErrorIs(t, err, ErrEmptyRegistry)

	_, err = r.Route("anything", nil)
	assert.ErrorIs(t, err, ErrEmptyRegistry)
}

func TestRouteTierWithinBand(t *testing.T) {
	r := newTestRouter()
	reg := registry.Builtin()

	// A short keyword-free request sits in the lowest complexity band.
	d, err := r.Route("hello", reg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.TargetTier, 1)
	assert.LessOrEqual(t, d.TargetTier, 9)

	// A long, keyword-dense request lands in a higher band.
	heavy := strings.Repeat("analyze optimize fix create refactor test deploy ", 30)
	d2, err := r.Route(heavy, reg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d2.TargetTier, 27)
	assert.LessOrEqual(t, d2.TargetTier, 33)
}

func TestRouteIncludesBaseComponents(t *testing.T) {
	r := newTestRouter()
	reg := registry.Builtin()

	d, err := r.Route("short", reg)
	require.NoError(t, err)

	for _, base := range reg.BaseComponents() {
		assert.Contains(t, d.Components, base)
	}
}

func TestRouteTargetTierCapabilityIncluded(t *testing.T) {
	r := newTestRouter()
	reg := registry.Builtin()

	d, err := r.Route("inspect the worker pool for deadlocks", reg)
	require.NoError(t, err)

	cap, ok := reg.ByTier(d.TargetTier)
	require.True(t, ok)
	assert.Contains(t, d.Capabilities, cap.ID)
}

func TestRouteScoreBounds(t *testing.T) {
	r := newTestRouter()
	reg := registry.Builtin()

	for _, in := range []string{"", "analyze", strings.Repeat("deploy everything ", 100)} {
		d, err := r.Route(in, reg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d.Score, 0.0)
		assert.LessOrEqual(t, d.Score, 1.0)
		assert.GreaterOrEqual(t, d.Complexity, 0.0)
		assert.LessOrEqual(t, d.Complexity, 1.0)
	}
}

func TestRouteCapabilityCountScalesWithComplexity(t *testing.T) {
	r := newTestRouter()
	reg := registry.Builtin()

	low, err := r.Route("hi", reg)
	require.NoError(t, err)
	high, err := r.Route(strings.Repeat("analyze optimize fix create deploy ", 40), reg)
	require.NoError(t, err)

	assert.Greater(t, len(high.Capabilities), len(low.Capabilities))
}

func TestRouteSparseRegistry(t *testing.T) {
	r := newTestRouter()
	reg, err := registry.New(registry.Manifest{
		Capabilities: []registry.Capability{
			{ID: 1, Tier: 2, Name: "only", Category: registry.CategoryFoundation},
		},
		Components: []registry.Component{{ID: 1, Name: "core", Base: true}},
	})
	require.NoError(t, err)

	// No capability inside the high band; routing falls back to the nearest
	// registered tier instead of failing.
	d, err := r.Route(strings.Repeat("deploy and fix everything ", 50), reg)
	require.NoError(t, err)
	assert.Equal(t, 2, d.TargetTier)
}
