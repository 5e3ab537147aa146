package filter

import (
	"github.com/agentic-research/hiercache/internal/scene"
)

// RowFilter decides which rows a tree view shows: state toggles first, then
// the verdicts of the active substring filter, if any.
type RowFilter struct {
	ShowInactive  bool
	ShowUndefined bool
	ShowAbstract  bool

	cache  *Cache
	active bool
	// pred is the traversal predicate for filter application. It defaults to
	// every prim so matches under hidden prims still propagate.
	pred scene.Predicate
}

// NewRowFilter returns a row filter backed by cache.
func NewRowFilter(cache *Cache) *RowFilter {
	return &RowFilter{cache: cache, pred: scene.AllPredicate()}
}

// SetPathContains applies a substring filter under root and activates it.
func (f *RowFilter) SetPathContains(src scene.Source, root scene.Path, substring string) error {
	if err := f.cache.ApplyFilter(src, root, substring, f.pred); err != nil {
		return err
	}
	f.active = true
	return nil
}

// ClearFilter deactivates the substring filter.
func (f *RowFilter) ClearFilter() {
	f.active = false
	f.cache.Clear()
}

// Active reports whether a substring filter is in effect.
func (f *RowFilter) Active() bool { return f.active }

// Accepts reports whether the row for n is shown.
func (f *RowFilter) Accepts(n scene.Node) bool {
	if n.Path().IsRoot() {
		return true
	}
	flags := n.Flags()
	if !f.ShowInactive && !flags.Has(scene.FlagActive) {
		return false
	}
	if !f.ShowUndefined && !flags.Has(scene.FlagDefined) {
		return false
	}
	if !f.ShowAbstract && flags.Has(scene.FlagAbstract) {
		return false
	}
	if f.active {
		return f.cache.State(n.Path()) == Accept
	}
	return true
}
