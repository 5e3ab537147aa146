package filter

import (
	"strings"
	"testing"

	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func define(t *testing.T, st *scene.Stage, parent scene.Path, name string, spec scene.PrimSpec) {
	t.Helper()
	if spec.Flags == 0 {
		spec.Flags = scene.DefaultFlags
	}
	_, err := st.DefinePrim(parent, name, spec)
	require.NoError(t, err)
}

func worldStage(t *testing.T) *scene.Stage {
	t.Helper()
	st := scene.NewStage()
	define(t, st, scene.RootPath, "World", scene.PrimSpec{})
	define(t, st, "/World", "A", scene.PrimSpec{})
	define(t, st, "/World", "B", scene.PrimSpec{})
	return st
}

func TestApplyFilterScenario(t *testing.T) {
	c := New(Options{})
	require.NoError(t, c.ApplyFilter(worldStage(t), "/World", "B", scene.DefaultPredicate()))
	assert.Equal(t, Accept, c.State("/World/B"))
	assert.Equal(t, Reject, c.State("/World/A"))
	assert.Equal(t, Accept, c.State("/World"))
	assert.Equal(t, Untraversed, c.State("/"))
	assert.Equal(t, Untraversed, c.State("/Nowhere"))
	assert.Equal(t, []scene.Path{"/World", "/World/B"}, c.Accepted())
}

func TestApplyFilterPropagatesUpward(t *testing.T) {
	st := worldStage(t)
	define(t, st, "/World/A", "Mid", scene.PrimSpec{})
	define(t, st, "/World/A/Mid", "needle", scene.PrimSpec{})
	define(t, st, "/World/A/Mid", "hay", scene.PrimSpec{})

	c := New(Options{})
	require.NoError(t, c.ApplyFilter(st, scene.RootPath, "needle", nil))
	for _, p := range []scene.Path{"/", "/World", "/World/A", "/World/A/Mid", "/World/A/Mid/needle"} {
		assert.Equal(t, Accept, c.State(p), p)
	}
	assert.Equal(t, Reject, c.State("/World/A/Mid/hay"))
	assert.Equal(t, Reject, c.State("/World/B"))
}

func TestApplyFilterCasePolicy(t *testing.T) {
	st := worldStage(t)
	define(t, st, "/World", "Straße", scene.PrimSpec{DisplayName: "Große Straße"})

	sensitive := New(Options{})
	require.NoError(t, sensitive.ApplyFilter(st, "/World", "b", nil))
	assert.Equal(t, Reject, sensitive.State("/World/B"))

	insensitive := New(Options{CaseInsensitive: true})
	require.NoError(t, insensitive.ApplyFilter(st, "/World", "b", nil))
	assert.Equal(t, Accept, insensitive.State("/World/B"))
	require.NoError(t, insensitive.ApplyFilter(st, "/World", "STRAßE", nil))
	assert.Equal(t, Accept, insensitive.State("/World/Straße"))
}

func TestApplyFilterRespectsPredicate(t *testing.T) {
	st := worldStage(t)
	require.NoError(t, st.SetFlags("/World/B", scene.FlagDefined|scene.FlagLoaded))
	c := New(Options{})
	require.NoError(t, c.ApplyFilter(st, "/World", "B", scene.DefaultPredicate()))
	assert.Equal(t, Untraversed, c.State("/World/B"))
	assert.Equal(t, Reject, c.State("/World"))
}

func TestApplyFilterIsWholesale(t *testing.T) {
	st := worldStage(t)
	c := New(Options{})
	require.NoError(t, c.ApplyFilter(st, "/World", "A", nil))
	assert.Equal(t, Accept, c.State("/World/A"))
	require.NoError(t, c.ApplyFilter(st, "/World/B", "B", nil))
	assert.Equal(t, Untraversed, c.State("/World/A"))
	assert.Equal(t, Accept, c.State("/World/B"))

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Equal(t, Untraversed, c.State("/World/B"))

	assert.ErrorIs(t, c.ApplyFilter(st, "/Missing", "x", nil), scene.ErrPrimNotFound)
}

func TestApplyFuncExcludePrunes(t *testing.T) {
	st := worldStage(t)
	define(t, st, "/World/A", "Inner", scene.PrimSpec{})
	c := New(Options{})
	fn := func(n scene.Node) Verdict {
		switch {
		case n.Path() == "/World/A":
			return Exclude
		case strings.HasPrefix(n.DisplayName(), "In"), n.DisplayName() == "B":
			return Include
		default:
			return Descend
		}
	}
	require.NoError(t, c.ApplyFunc(st, "/World", fn, nil))
	assert.Equal(t, Reject, c.State("/World/A"))
	assert.Equal(t, Untraversed, c.State("/World/A/Inner"))
	assert.Equal(t, Accept, c.State("/World/B"))
	assert.Equal(t, Accept, c.State("/World"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "untraversed", State(0).String())
}
