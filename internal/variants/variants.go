// Package variants browses a prim's variant sets as a lazy item tree. The
// children of the root are every choice of the prim's top-level sets; the
// children of a choice are the choices of the sets nested under it.
package variants

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agentic-research/hiercache/api"
	"github.com/agentic-research/hiercache/internal/itemtree"
	"github.com/agentic-research/hiercache/internal/scene"
)

// Source provides authored variant sets and selections.
type Source interface {
	VariantSets(path scene.Path) ([]api.VariantSet, error)
	VariantSelection(path scene.Path, set string) string
}

// Selection is one set=variant pair. An empty Variant clears the selection.
type Selection struct {
	Set     string
	Variant string
}

func (s Selection) String() string { return s.Set + "=" + s.Variant }

// Item is one choice. The tree root is a synthetic item with an empty key.
type Item struct {
	Prim scene.Path
	// Parents are the selections that lead to this choice, outermost first.
	Parents   []Selection
	Selection Selection
	// nested holds the sets authored under the chosen variant.
	nested []api.VariantSet
	key    string
}

func (i Item) Key() string { return i.key }

// Name renders the choice as "set=variant".
func (i Item) Name() string { return i.Selection.String() }

// IsClear reports whether this is the "clear selection" choice.
func (i Item) IsClear() bool { return i.key != "" && i.Selection.Variant == "" }

// Chain returns the full selection chain including this choice.
func (i Item) Chain() []Selection {
	return append(append([]Selection(nil), i.Parents...), i.Selection)
}

// Selected reports whether src currently selects this choice.
func (i Item) Selected(src Source) bool {
	return src.VariantSelection(i.Prim, i.Selection.Set) == i.Selection.Variant
}

// Ref returns the object reference for this choice.
func (i Item) Ref() api.Ref {
	return api.VariantRef{Prim: string(i.Prim), Set: i.Selection.Set, Variant: i.Selection.Variant}
}

// Tree is a lazy variant tree.
type Tree = itemtree.Tree[string, Item]

// ChainKey renders selections as "{set=variant}" segments.
func ChainKey(chain []Selection) string {
	var b strings.Builder
	for _, s := range chain {
		fmt.Fprintf(&b, "{%s=%s}", s.Set, s.Variant)
	}
	return b.String()
}

// NewTree returns the variant tree of prim.
func NewTree(src Source, prim scene.Path) (*Tree, error) {
	sets, err := src.VariantSets(prim)
	if err != nil {
		return nil, err
	}
	root := Item{Prim: prim, nested: sets}
	return itemtree.NewLazy[string, Item](root, func(parent Item) []Item {
		return choices(prim, parent, parent.key == "")
	}), nil
}

func choices(prim scene.Path, parent Item, isRoot bool) []Item {
	var chain []Selection
	if !isRoot {
		if parent.Selection.Variant == "" {
			return nil
		}
		chain = parent.Chain()
	}
	prefix := ChainKey(chain)
	var out []Item
	for _, set := range parent.nested {
		for _, v := range slices.Concat(set.Variants, []api.Variant{{}}) {
			sel := Selection{Set: set.Name, Variant: v.Name}
			out = append(out, Item{
				Prim:      prim,
				Parents:   chain,
				Selection: sel,
				nested:    v.VariantSets,
				key:       prefix + ChainKey([]Selection{sel}),
			})
		}
	}
	return out
}
