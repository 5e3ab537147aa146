package hierarchy

import (
	"github.com/agentic-research/hiercache/internal/scene"
)

// RowChange describes how a held proxy moved across a resync.
type RowChange struct {
	Path scene.Path
	// Proxy is the handle to use from now on; zero when Removed.
	Proxy   Proxy
	OldRow  int
	NewRow  int
	Removed bool
}

// affected reports whether a row at path can move when r is resynced: it is
// r itself, lies below r, or is a sibling of r.
func affected(path, r scene.Path) bool {
	if path.HasPrefix(r) {
		return true
	}
	parent := r.Parent()
	return !parent.IsEmpty() && path != parent && path.HasPrefix(parent)
}

// ResyncAndRemap resyncs and reports the held proxies whose rows moved or
// that were removed. Held proxies outside the resynced subtrees and their
// siblings are not examined; expired ones are skipped.
func (c *Cache) ResyncAndRemap(paths []scene.Path, held []Proxy) ([]RowChange, error) {
	type capture struct {
		path scene.Path
		row  int
	}
	var captured []capture
	for _, p := range held {
		path, err := c.Path(p)
		if err != nil {
			continue
		}
		for _, r := range paths {
			if affected(path, r) {
				row, err := c.Row(p)
				if err != nil {
					return nil, err
				}
				captured = append(captured, capture{path: path, row: row})
				break
			}
		}
	}

	if _, err := c.resync(paths); err != nil {
		return nil, err
	}

	var changes []RowChange
	for _, cp := range captured {
		if !c.ContainsPath(cp.path) {
			changes = append(changes, RowChange{Path: cp.path, OldRow: cp.row, NewRow: -1, Removed: true})
			continue
		}
		np, err := c.Proxy(cp.path)
		if err != nil {
			return nil, err
		}
		row, err := c.Row(np)
		if err != nil {
			return nil, err
		}
		if row != cp.row {
			changes = append(changes, RowChange{Path: cp.path, Proxy: np, OldRow: cp.row, NewRow: row})
		}
	}
	return changes, nil
}
