package variants

import (
	"testing"

	"github.com/agentic-research/hiercache/api"
	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shadedStage(t *testing.T) *scene.Stage {
	t.Helper()
	st := scene.NewStage()
	_, err := st.DefinePrim(scene.RootPath, "Cube", scene.PrimSpec{
		Flags: scene.DefaultFlags,
		VariantSets: []api.VariantSet{
			{Name: "shading", Variants: []api.Variant{
				{Name: "red", VariantSets: []api.VariantSet{
					{Name: "finish", Variants: []api.Variant{{Name: "matte"}, {Name: "gloss"}}},
				}},
				{Name: "blue"},
			}},
			{Name: "lod", Variants: []api.Variant{{Name: "high"}}},
		},
		Selections: map[string]string{"shading": "red"},
	})
	require.NoError(t, err)
	return st
}

func itemNames(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name()
	}
	return out
}

func TestVariantTreeTopLevel(t *testing.T) {
	st := shadedStage(t)
	tree, err := NewTree(st, "/Cube")
	require.NoError(t, err)

	top, err := tree.Children("")
	require.NoError(t, err)
	assert.Equal(t, []string{"shading=red", "shading=blue", "shading=", "lod=high", "lod="}, itemNames(top))
	assert.True(t, top[0].Selected(st))
	assert.False(t, top[1].Selected(st))
	assert.True(t, top[4].Selected(st), "no lod selection means the clear choice")
	assert.True(t, top[2].IsClear())
	assert.Equal(t, "{shading=red}", top[0].Key())
}

func TestVariantTreeNested(t *testing.T) {
	tree, err := NewTree(shadedStage(t), "/Cube")
	require.NoError(t, err)

	nested, err := tree.Children("{shading=red}")
	require.Error(t, err, "children are fetched lazily from the root down")
	_, err = tree.Children("")
	require.NoError(t, err)

	nested, err = tree.Children("{shading=red}")
	require.NoError(t, err)
	assert.Equal(t, []string{"finish=matte", "finish=gloss", "finish="}, itemNames(nested))
	assert.Equal(t, "{shading=red}{finish=gloss}", nested[1].Key())
	assert.Equal(t, []Selection{{"shading", "red"}, {"finish", "gloss"}}, nested[1].Chain())

	n, err := tree.ChildCount("{shading=}")
	require.NoError(t, err)
	assert.Zero(t, n, "clear choice has no children")
	n, err = tree.ChildCount("{shading=blue}")
	require.NoError(t, err)
	assert.Zero(t, n)

	ref, ok := nested[0].Ref().(api.VariantRef)
	require.True(t, ok)
	assert.Equal(t, "finish", ref.Set)
}

func TestVariantTreeForgetRefetch(t *testing.T) {
	tree, err := NewTree(shadedStage(t), "/Cube")
	require.NoError(t, err)
	_, _ = tree.Children("")
	first, err := tree.Children("{shading=red}")
	require.NoError(t, err)

	_, err = tree.ForgetChildren("{shading=red}")
	require.NoError(t, err)
	assert.False(t, tree.Contains("{shading=red}{finish=matte}"))
	again, err := tree.Children("{shading=red}")
	require.NoError(t, err)
	assert.Equal(t, itemNames(first), itemNames(again))
}

func TestVariantTreeMissingPrim(t *testing.T) {
	_, err := NewTree(shadedStage(t), "/Nope")
	assert.ErrorIs(t, err, scene.ErrPrimNotFound)
}
