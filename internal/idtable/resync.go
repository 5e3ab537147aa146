package idtable

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/hiercache/internal/scene"
)

// Report describes what a resync changed.
type Report struct {
	// Removed holds every id deleted from the table.
	Removed *roaring.Bitmap
	// Refreshed lists the registered paths whose children were recomputed.
	Refreshed []scene.Path
}

type childUpdate struct {
	id       ID
	path     scene.Path
	children []scene.Path
}

// ResyncSubtrees folds a resync notification into the table. Every path's
// subtree may have been added, removed or reordered in the source.
//
// Children of the unique registered parents of paths are re-queried first. A
// child that appears without being known or resynced, or disappears without
// being resynced, is an anomaly: the table is left unchanged, marked
// desynchronized, and a *DesyncError is returned. Otherwise each resynced
// path is kept (and its registered descendants re-derived) while it is valid
// and accepted by the predicate, and deleted with its subtree when not.
//
// If the root is deleted the report is still returned, along with
// ErrRootExpired.
func (t *Table) ResyncSubtrees(paths []scene.Path) (*Report, error) {
	if t.desynced {
		return nil, ErrDesynchronized
	}
	sorted := scene.SortPaths(slices.Clone(paths))
	inResync := make(map[scene.Path]struct{}, len(sorted))
	for _, p := range sorted {
		inResync[p] = struct{}{}
	}
	covered := func(p scene.Path) bool {
		for _, r := range sorted {
			if p.HasPrefix(r) {
				return true
			}
		}
		return false
	}

	parents := make([]scene.Path, 0, len(sorted))
	for _, p := range sorted {
		if parent := p.Parent(); !parent.IsEmpty() {
			parents = append(parents, parent)
		}
	}
	parents = scene.SortPaths(parents)

	var (
		updates []childUpdate
		desync  DesyncError
	)
	for _, parent := range parents {
		pid, ok := t.pathToID[parent]
		if !ok {
			t.logger.Debug().Str("path", string(parent)).Msg("skip unregistered parent")
			continue
		}
		// The parent lies inside another resynced subtree; its children are
		// re-derived when that subtree is invalidated.
		if covered(parent) {
			continue
		}
		var current []scene.Path
		if n, ok := scene.ValidNode(t.src, parent, t.pred); ok {
			current = scene.ChildPaths(t.src, n, t.pred)
		}
		old := t.records[pid].children
		oldSet := make(map[scene.Path]struct{}, len(old))
		for _, c := range old {
			oldSet[c] = struct{}{}
		}
		currentSet := make(map[scene.Path]struct{}, len(current))
		for _, c := range current {
			currentSet[c] = struct{}{}
			_, known := oldSet[c]
			_, resynced := inResync[c]
			if !known && !resynced {
				t.logger.Debug().Str("path", string(c)).Msg("out of sync new child")
				desync.Unexpected = append(desync.Unexpected, c)
			}
		}
		for _, c := range old {
			_, present := currentSet[c]
			_, resynced := inResync[c]
			if !present && !resynced {
				t.logger.Debug().Str("path", string(c)).Msg("out of sync original child")
				desync.Missing = append(desync.Missing, c)
			}
		}
		updates = append(updates, childUpdate{id: pid, path: parent, children: current})
	}
	if len(desync.Unexpected) > 0 || len(desync.Missing) > 0 {
		t.desynced = true
		t.logger.Error().Int("unexpected", len(desync.Unexpected)).Int("missing", len(desync.Missing)).
			Msg("indices may have been lost during resync")
		return nil, &desync
	}

	report := &Report{Removed: roaring.New()}
	for _, u := range updates {
		t.records[u.id].children = u.children
		report.Refreshed = append(report.Refreshed, u.path)
	}
	for i, p := range sorted {
		if i > 0 && slices.ContainsFunc(sorted[:i], func(r scene.Path) bool { return p.HasPrefix(r) }) {
			continue
		}
		// A resync above the root covers the whole table.
		if p != t.root && t.root.HasPrefix(p) {
			p = t.root
		}
		t.invalidate(p, report)
	}
	if !t.ContainsPath(t.root) {
		t.desynced = true
		return report, ErrRootExpired
	}
	return report, nil
}

func (t *Table) invalidate(path scene.Path, report *Report) {
	id, ok := t.pathToID[path]
	if !ok {
		t.logger.Debug().Str("path", string(path)).Msg("skip uninstantiated path")
		return
	}
	n, ok := scene.ValidNode(t.src, path, t.pred)
	if !ok {
		t.logger.Debug().Str("path", string(path)).Msg("reject during invalidation")
		t.deleteSubtree(path, report)
		return
	}
	t.logger.Debug().Str("path", string(path)).Msg("keep during invalidation")
	rec := t.records[id]
	for _, c := range rec.children {
		t.invalidate(c, report)
	}
	rec.children = scene.ChildPaths(t.src, n, t.pred)
	report.Refreshed = append(report.Refreshed, path)
}

func (t *Table) deleteSubtree(path scene.Path, report *Report) {
	id, ok := t.pathToID[path]
	if !ok {
		return
	}
	delete(t.pathToID, path)
	rec := t.records[id]
	for _, c := range rec.children {
		t.deleteSubtree(c, report)
	}
	delete(t.records, id)
	t.live.Remove(uint32(id))
	report.Removed.Add(uint32(id))
	t.logger.Debug().Uint32("id", uint32(id)).Str("path", string(path)).Msg("delete")
}
