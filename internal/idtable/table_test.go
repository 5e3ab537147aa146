package idtable

import (
	"errors"
	"testing"

	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// worldStage builds / -> /World -> {/World/A, /World/B}.
func worldStage(t *testing.T) *scene.Stage {
	t.Helper()
	st := scene.NewStage()
	def := scene.PrimSpec{Flags: scene.DefaultFlags}
	_, err := st.DefinePrim(scene.RootPath, "World", def)
	require.NoError(t, err)
	_, err = st.DefinePrim("/World", "A", def)
	require.NoError(t, err)
	_, err = st.DefinePrim("/World", "B", def)
	require.NoError(t, err)
	return st
}

func newTable(t *testing.T, st *scene.Stage, opts ...Option) *Table {
	t.Helper()
	tbl, err := New(st, scene.RootPath, scene.DefaultPredicate(), opts...)
	require.NoError(t, err)
	return tbl
}

// registerAll registers every known child below id.
func registerAll(t *testing.T, tbl *Table, id ID) {
	t.Helper()
	n, err := tbl.ChildCount(id)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		ok, err := tbl.RegisterChild(id, i)
		require.NoError(t, err)
		require.True(t, ok)
		p, err := tbl.ChildPath(id, i)
		require.NoError(t, err)
		cid, err := tbl.IDFromPath(p)
		require.NoError(t, err)
		registerAll(t, tbl, cid)
	}
}

func TestNewRegistersRootOnly(t *testing.T) {
	tbl := newTable(t, worldStage(t))
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, ID(1), tbl.LastID())
	assert.True(t, tbl.IsRoot(1))
	assert.Equal(t, scene.RootPath, tbl.RootPath())

	n, err := tbl.ChildCount(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	parent, err := tbl.ParentID(1)
	require.NoError(t, err)
	assert.Equal(t, NoID, parent)
}

func TestNewInvalidRoot(t *testing.T) {
	st := worldStage(t)
	_, err := New(st, "/Missing", nil)
	assert.ErrorIs(t, err, ErrInvalidRoot)

	require.NoError(t, st.SetFlags("/World", scene.FlagDefined))
	_, err = New(st, "/World", scene.DefaultPredicate())
	assert.ErrorIs(t, err, ErrInvalidRoot)
}

func TestLazyMaterialization(t *testing.T) {
	tbl := newTable(t, worldStage(t))
	ok, err := tbl.RegisterChild(1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	world, err := tbl.IDFromPath("/World")
	require.NoError(t, err)

	// Children are known but unregistered.
	p, err := tbl.ChildPath(world, 1)
	require.NoError(t, err)
	assert.Equal(t, scene.Path("/World/B"), p)
	assert.False(t, tbl.ContainsPath("/World/B"))
	assert.False(t, tbl.ContainsID(world+1))

	ok, err = tbl.RegisterChild(world, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, tbl.ContainsPath("/World/B"))

	// Registering again keeps the id.
	last := tbl.LastID()
	ok, err = tbl.RegisterChild(world, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, last, tbl.LastID())
}

func TestIDStabilityAndRows(t *testing.T) {
	tbl := newTable(t, worldStage(t))
	registerAll(t, tbl, 1)
	require.NoError(t, tbl.Validate())

	it := tbl.Live().Iterator()
	for it.HasNext() {
		id := ID(it.Next())
		p, err := tbl.PathFromID(id)
		require.NoError(t, err)
		got, err := tbl.IDFromPath(p)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	world, _ := tbl.IDFromPath("/World")
	n, _ := tbl.ChildCount(world)
	for i := 0; i < n; i++ {
		p, _ := tbl.ChildPath(world, i)
		id, _ := tbl.IDFromPath(p)
		row, err := tbl.Row(id)
		require.NoError(t, err)
		assert.Equal(t, i, row)
		parent, err := tbl.ParentID(id)
		require.NoError(t, err)
		assert.Equal(t, world, parent)
	}
}

func TestLookupErrors(t *testing.T) {
	tbl := newTable(t, worldStage(t))

	_, err := tbl.PathFromID(99)
	assert.ErrorIs(t, err, ErrNotFound)
	var lerr *LookupError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, ID(99), lerr.ID)

	_, err = tbl.IDFromPath("/World/A")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "/World/A")

	_, err = tbl.ChildPath(1, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = tbl.RegisterChild(1, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = tbl.RegisterChild(42, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tbl.Row(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterChildStale(t *testing.T) {
	st := worldStage(t)
	tbl := newTable(t, st)
	ok, err := tbl.RegisterChild(1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	world, _ := tbl.IDFromPath("/World")

	// The table still lists B; no resync has told it otherwise.
	require.NoError(t, st.RemovePrim("/World/B"))
	_, err = tbl.RegisterChild(world, 1)
	assert.ErrorIs(t, err, ErrStaleChild)
	assert.False(t, tbl.ContainsPath("/World/B"))
}

func TestCapacityExhausted(t *testing.T) {
	tbl := newTable(t, worldStage(t), WithMaxID(3))
	ok, err := tbl.RegisterChild(1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	world, _ := tbl.IDFromPath("/World")
	ok, err = tbl.RegisterChild(world, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, tbl.ContainsPath("/World/A"))

	_, err = New(worldStage(t), scene.RootPath, nil, WithMaxID(1))
	assert.Error(t, err)
}
