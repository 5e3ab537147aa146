// Package scene defines the external scene-graph contract consumed by the
// hierarchy caches, plus the concrete sources used by the CLI and tests:
// an in-memory mutable Stage, a JSON loader and a SQLite-backed source.
package scene

import (
	"errors"
	"strings"
)

var (
	ErrPrimNotFound = errors.New("prim not found")
	ErrPrimExists   = errors.New("prim already exists")
	ErrInvalidName  = errors.New("invalid prim name")
)

// Flags carries the composed state bits a Predicate can test.
type Flags uint8

const (
	FlagActive Flags = 1 << iota
	FlagDefined
	FlagAbstract
	FlagLoaded
	FlagModel
	FlagInstance
)

// DefaultFlags is the state of a plain active, loaded "def" prim.
const DefaultFlags = FlagActive | FlagDefined | FlagLoaded

// Has reports whether every bit of want is set.
func (f Flags) Has(want Flags) bool { return f&want == want }

func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagActive, "active"},
		{FlagDefined, "defined"},
		{FlagAbstract, "abstract"},
		{FlagLoaded, "loaded"},
		{FlagModel, "model"},
		{FlagInstance, "instance"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Node is a handle to a prim owned by a Source. A handle may outlive the prim
// it names; Source.IsValid reports whether it still does.
type Node interface {
	Path() Path
	DisplayName() string
	Flags() Flags
}

// Predicate selects which children a traversal sees.
type Predicate func(Node) bool

// DefaultPredicate accepts active, defined, loaded, non-abstract prims.
func DefaultPredicate() Predicate {
	return Match(FlagActive|FlagDefined|FlagLoaded, FlagAbstract)
}

// AllPredicate accepts every prim.
func AllPredicate() Predicate {
	return func(Node) bool { return true }
}

// Match accepts prims that carry every bit of require and none of exclude.
func Match(require, exclude Flags) Predicate {
	return func(n Node) bool {
		f := n.Flags()
		return f.Has(require) && f&exclude == 0
	}
}

// Source is the read-only view of a scene graph. Implementations are queried
// synchronously from the thread that delivers their notifications.
type Source interface {
	// NodeAt returns the prim currently at path.
	NodeAt(path Path) (Node, bool)
	// IsValid reports whether n still names a live prim.
	IsValid(n Node) bool
	// FilteredChildren returns n's children accepted by pred, in display order.
	FilteredChildren(n Node, pred Predicate) []Node
}

// Notifier pushes resync notifications: the subtrees under the given paths
// may have been added, removed or reordered.
type Notifier interface {
	Subscribe(fn func(paths []Path)) (cancel func())
}

// ChildPaths returns the paths of n's filtered children.
func ChildPaths(src Source, n Node, pred Predicate) []Path {
	children := src.FilteredChildren(n, pred)
	paths := make([]Path, len(children))
	for i, c := range children {
		paths[i] = c.Path()
	}
	return paths
}

// ValidNode returns the node at path if it is live and accepted by pred.
func ValidNode(src Source, path Path, pred Predicate) (Node, bool) {
	n, ok := src.NodeAt(path)
	if !ok || !src.IsValid(n) {
		return nil, false
	}
	if pred != nil && !pred(n) {
		return nil, false
	}
	return n, true
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/") && name != "." && name != ".."
}
