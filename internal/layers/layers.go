// Package layers presents a scene's layer stack as an item tree: the session
// layer and its sublayers first, then the root layer tree.
package layers

import (
	"github.com/agentic-research/hiercache/api"
	"github.com/agentic-research/hiercache/internal/itemtree"
)

// Source provides the layer stack.
type Source interface {
	SessionLayer() (*api.Layer, bool)
	RootLayer() (*api.Layer, bool)
}

// Item is one layer in the tree. The tree root is a synthetic item with an
// empty key and nil Layer.
type Item struct {
	Layer   *api.Layer
	Session bool
}

func (i Item) Key() string {
	if i.Layer == nil {
		return ""
	}
	return i.Layer.Identifier
}

// Name returns the layer's display name.
func (i Item) Name() string {
	if i.Layer == nil {
		return ""
	}
	return i.Layer.Name()
}

// Tree is the layer stack tree.
type Tree = itemtree.Tree[string, Item]

// Build returns the layer tree of src. Only the session layer's direct
// sublayers are listed; the root layer tree is added recursively.
func Build(src Source, includeSession bool) (*Tree, error) {
	tree := itemtree.New[string, Item](Item{})
	if includeSession {
		if session, ok := src.SessionLayer(); ok {
			if err := tree.AddItems("", Item{Layer: session, Session: true}); err != nil {
				return nil, err
			}
			for i := range session.SubLayers {
				sub := &session.SubLayers[i]
				if err := tree.AddItems(session.Identifier, Item{Layer: &api.Layer{
					Identifier:  sub.Identifier,
					DisplayName: sub.DisplayName,
				}, Session: true}); err != nil {
					return nil, err
				}
			}
		}
	}
	if root, ok := src.RootLayer(); ok {
		if err := addLayerTree(tree, "", root); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func addLayerTree(tree *Tree, parent string, l *api.Layer) error {
	if err := tree.AddItems(parent, Item{Layer: l}); err != nil {
		return err
	}
	for i := range l.SubLayers {
		if err := addLayerTree(tree, l.Identifier, &l.SubLayers[i]); err != nil {
			return err
		}
	}
	return nil
}
