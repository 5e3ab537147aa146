package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStage(t *testing.T) *Stage {
	t.Helper()
	st := NewStage()
	for _, name := range []string{"A", "B", "C"} {
		_, err := st.DefinePrim(RootPath, name, PrimSpec{Flags: DefaultFlags})
		require.NoError(t, err)
	}
	_, err := st.DefinePrim("/A", "X", PrimSpec{Flags: DefaultFlags})
	require.NoError(t, err)
	return st
}

func TestStageChildrenOrderAndPredicate(t *testing.T) {
	st := buildStage(t)
	require.NoError(t, st.SetFlags("/B", FlagDefined|FlagLoaded))

	root, ok := st.NodeAt(RootPath)
	require.True(t, ok)
	assert.Equal(t, []Path{"/A", "/B", "/C"}, ChildPaths(st, root, AllPredicate()))
	assert.Equal(t, []Path{"/A", "/C"}, ChildPaths(st, root, DefaultPredicate()))
}

func TestStageInsertPrim(t *testing.T) {
	st := buildStage(t)
	_, err := st.InsertPrim(RootPath, "D", 1, PrimSpec{Flags: DefaultFlags})
	require.NoError(t, err)
	root, _ := st.NodeAt(RootPath)
	assert.Equal(t, []Path{"/A", "/D", "/B", "/C"}, ChildPaths(st, root, nil))

	_, err = st.DefinePrim(RootPath, "A", PrimSpec{})
	assert.ErrorIs(t, err, ErrPrimExists)
	_, err = st.DefinePrim("/Missing", "Z", PrimSpec{})
	assert.ErrorIs(t, err, ErrPrimNotFound)
	_, err = st.DefinePrim(RootPath, "a/b", PrimSpec{})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestStageRemoveInvalidatesHandles(t *testing.T) {
	st := buildStage(t)
	a, _ := st.NodeAt("/A")
	x, _ := st.NodeAt("/A/X")
	require.NoError(t, st.RemovePrim("/A"))

	assert.False(t, st.IsValid(a))
	assert.False(t, st.IsValid(x))
	_, ok := st.NodeAt("/A/X")
	assert.False(t, ok)

	// A prim re-created at the same path is a new handle.
	_, err := st.DefinePrim(RootPath, "A", PrimSpec{Flags: DefaultFlags})
	require.NoError(t, err)
	assert.False(t, st.IsValid(a))
	assert.Error(t, st.RemovePrim(RootPath))
}

func TestStageReorderChildren(t *testing.T) {
	st := buildStage(t)
	require.NoError(t, st.ReorderChildren(RootPath, []string{"C", "A", "B"}))
	root, _ := st.NodeAt(RootPath)
	assert.Equal(t, []Path{"/C", "/A", "/B"}, ChildPaths(st, root, nil))
	assert.Error(t, st.ReorderChildren(RootPath, []string{"C"}))
	assert.ErrorIs(t, st.ReorderChildren(RootPath, []string{"C", "A", "Q"}), ErrPrimNotFound)
}

func TestStageNotifications(t *testing.T) {
	st := NewStage()
	var got [][]Path
	cancel := st.Subscribe(func(paths []Path) { got = append(got, paths) })

	_, err := st.DefinePrim(RootPath, "A", PrimSpec{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []Path{"/A"}, got[0])

	err = st.Changes(func() error {
		st.Begin()
		_, _ = st.DefinePrim(RootPath, "C", PrimSpec{})
		st.End()
		_, _ = st.DefinePrim(RootPath, "B", PrimSpec{})
		return st.SetFlags("/C", DefaultFlags)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []Path{"/B", "/C"}, got[1])

	cancel()
	_, _ = st.DefinePrim(RootPath, "D", PrimSpec{})
	assert.Len(t, got, 2)
}

func TestStageEndWithoutBegin(t *testing.T) {
	assert.Panics(t, func() { NewStage().End() })
}

func TestStageWalk(t *testing.T) {
	st := buildStage(t)
	var paths []Path
	require.NoError(t, st.Walk(func(n Node, _ int) error {
		paths = append(paths, n.Path())
		return nil
	}))
	assert.Equal(t, []Path{"/", "/A", "/A/X", "/B", "/C"}, paths)
	assert.Equal(t, 5, st.Len())
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "active|defined|loaded", DefaultFlags.String())
	assert.Equal(t, "none", Flags(0).String())
}

func TestFlagsReadWhileSetting(t *testing.T) {
	st := buildStage(t)
	n, ok := st.NodeAt("/B")
	require.True(t, ok)
	root, _ := st.NodeAt(RootPath)
	pred := DefaultPredicate()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			f := DefaultFlags
			if i%2 == 0 {
				f &^= FlagActive
			}
			_ = st.SetFlags("/B", f)
		}
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			_ = pred(n)
			_ = st.FilteredChildren(root, pred)
		}
	}
	assert.Equal(t, DefaultFlags, n.Flags())
}
