// Package idtable assigns small integer ids to scene prims on first use and
// resolves id, path, parent, children and row for the registered subset.
//
// A registered node records its filtered children when it is registered, but
// the children themselves receive ids only through RegisterChild. Resync
// notifications are folded in with ResyncSubtrees, which re-derives only the
// affected children lists and fails loudly when the notification does not
// cover what actually changed.
package idtable

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/rs/zerolog"
)

// ID names a registered node. Ids start at 1 and are never reused.
type ID uint32

// NoID is the parent id of the root.
const NoID ID = 0

// DefaultMaxID is the exclusive upper bound on ids when WithMaxID is not set.
const DefaultMaxID ID = math.MaxUint32

type record struct {
	path     scene.Path
	children []scene.Path
}

// Table is the id index. It is not safe for concurrent use.
type Table struct {
	src    scene.Source
	root   scene.Path
	pred   scene.Predicate
	logger zerolog.Logger

	pathToID map[scene.Path]ID
	records  map[ID]*record
	live     *roaring.Bitmap

	next     ID
	maxID    ID
	desynced bool
}

// Option configures New.
type Option func(*Table)

// WithMaxID sets the exclusive upper bound on ids. Once next id reaches it,
// RegisterChild reports exhaustion by returning false.
func WithMaxID(max ID) Option {
	return func(t *Table) { t.maxID = max }
}

// WithLogger enables debug events for register, keep, reject and delete
// decisions.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// New creates a table holding only root.
func New(src scene.Source, root scene.Path, pred scene.Predicate, opts ...Option) (*Table, error) {
	if pred == nil {
		pred = scene.DefaultPredicate()
	}
	t := &Table{
		src:      src,
		root:     root,
		pred:     pred,
		logger:   zerolog.Nop(),
		pathToID: make(map[scene.Path]ID),
		records:  make(map[ID]*record),
		live:     roaring.New(),
		next:     1,
		maxID:    DefaultMaxID,
	}
	for _, o := range opts {
		o(t)
	}
	if t.maxID <= t.next {
		return nil, fmt.Errorf("max id %d leaves no room for the root", t.maxID)
	}
	n, ok := scene.ValidNode(src, root, pred)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoot, root)
	}
	t.register(n)
	return t, nil
}

func (t *Table) register(n scene.Node) ID {
	id := t.next
	t.next++
	path := n.Path()
	t.pathToID[path] = id
	t.records[id] = &record{path: path, children: scene.ChildPaths(t.src, n, t.pred)}
	t.live.Add(uint32(id))
	t.logger.Debug().Uint32("id", uint32(id)).Str("path", string(path)).
		Int("children", len(t.records[id].children)).Msg("register")
	return id
}

func (t *Table) lookup(op string, id ID) (*record, error) {
	rec, ok := t.records[id]
	if !ok {
		return nil, &LookupError{Op: op, ID: id, Err: ErrNotFound}
	}
	return rec, nil
}

// RegisterChild makes sure the child at index of parent id has an id. It
// returns false with a nil error when the id space is exhausted.
func (t *Table) RegisterChild(id ID, index int) (bool, error) {
	if t.desynced {
		return false, ErrDesynchronized
	}
	rec, err := t.lookup("register child", id)
	if err != nil {
		return false, err
	}
	if index < 0 || index >= len(rec.children) {
		return false, &LookupError{Op: "register child", Path: rec.path, Index: index, Err: ErrIndexOutOfRange}
	}
	path := rec.children[index]
	if _, ok := t.pathToID[path]; ok {
		return true, nil
	}
	n, ok := t.src.NodeAt(path)
	if !ok || !t.src.IsValid(n) {
		return false, fmt.Errorf("register child %d of %s: %w: %s", index, rec.path, ErrStaleChild, path)
	}
	if t.next >= t.maxID {
		t.logger.Warn().Uint32("max_id", uint32(t.maxID)).Str("path", string(path)).Msg("out of ids")
		return false, nil
	}
	t.register(n)
	return true, nil
}

// ChildPath returns the path of the child at index.
func (t *Table) ChildPath(id ID, index int) (scene.Path, error) {
	rec, err := t.lookup("child path", id)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(rec.children) {
		return "", &LookupError{Op: "child path", Path: rec.path, Index: index, Err: ErrIndexOutOfRange}
	}
	return rec.children[index], nil
}

// Children returns a copy of id's known children, registered or not.
func (t *Table) Children(id ID) ([]scene.Path, error) {
	rec, err := t.lookup("children", id)
	if err != nil {
		return nil, err
	}
	return append([]scene.Path(nil), rec.children...), nil
}

// ChildCount returns the number of known children of id.
func (t *Table) ChildCount(id ID) (int, error) {
	rec, err := t.lookup("child count", id)
	if err != nil {
		return 0, err
	}
	return len(rec.children), nil
}

// ParentID returns the id of id's parent, or NoID for the root.
func (t *Table) ParentID(id ID) (ID, error) {
	rec, err := t.lookup("parent", id)
	if err != nil {
		return NoID, err
	}
	if rec.path == t.root {
		return NoID, nil
	}
	parent := rec.path.Parent()
	pid, ok := t.pathToID[parent]
	if !ok {
		return NoID, &LookupError{Op: "parent", Path: parent, Err: ErrNotFound}
	}
	return pid, nil
}

// Row returns id's index within its parent's children. The root is row 0.
func (t *Table) Row(id ID) (int, error) {
	rec, err := t.lookup("row", id)
	if err != nil {
		return 0, err
	}
	if rec.path == t.root {
		return 0, nil
	}
	pid, err := t.ParentID(id)
	if err != nil {
		return 0, err
	}
	for i, c := range t.records[pid].children {
		if c == rec.path {
			return i, nil
		}
	}
	return 0, &LookupError{Op: "row", Path: rec.path, Err: ErrNotFound}
}

// PathFromID returns the path registered under id.
func (t *Table) PathFromID(id ID) (scene.Path, error) {
	rec, err := t.lookup("path", id)
	if err != nil {
		return "", err
	}
	return rec.path, nil
}

// IDFromPath returns the id registered for path.
func (t *Table) IDFromPath(path scene.Path) (ID, error) {
	id, ok := t.pathToID[path]
	if !ok {
		return NoID, &LookupError{Op: "id", Path: path, Err: ErrNotFound}
	}
	return id, nil
}

func (t *Table) ContainsPath(path scene.Path) bool {
	_, ok := t.pathToID[path]
	return ok
}

func (t *Table) ContainsID(id ID) bool {
	_, ok := t.records[id]
	return ok
}

// IsRoot reports whether id is the registered root.
func (t *Table) IsRoot(id ID) bool {
	rec, ok := t.records[id]
	return ok && rec.path == t.root
}

func (t *Table) RootPath() scene.Path { return t.root }

func (t *Table) Predicate() scene.Predicate { return t.pred }

func (t *Table) Source() scene.Source { return t.src }

// LastID returns the most recently assigned id.
func (t *Table) LastID() ID { return t.next - 1 }

// Len returns the number of registered nodes.
func (t *Table) Len() int { return len(t.records) }

// Live returns a copy of the set of registered ids.
func (t *Table) Live() *roaring.Bitmap { return t.live.Clone() }

// Desynced reports whether a resync failed. A desynced table rejects
// further mutation and should be rebuilt.
func (t *Table) Desynced() bool { return t.desynced }

// Validate checks that pathToID and the records are inverse maps and that
// the live bitmap agrees with them.
func (t *Table) Validate() error {
	if len(t.pathToID) != len(t.records) {
		return fmt.Errorf("%d paths, %d records", len(t.pathToID), len(t.records))
	}
	for id, rec := range t.records {
		if got, ok := t.pathToID[rec.path]; !ok || got != id {
			return fmt.Errorf("record %d (%s): path maps to %d", id, rec.path, got)
		}
		if !t.live.Contains(uint32(id)) {
			return fmt.Errorf("record %d missing from live set", id)
		}
	}
	if t.live.GetCardinality() != uint64(len(t.records)) {
		return fmt.Errorf("live set has %d ids, %d records", t.live.GetCardinality(), len(t.records))
	}
	return nil
}

// Dump writes every record in id order with the state of its path mapping,
// followed by any dangling path entries.
func (t *Table) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "root: %s\n", t.root); err != nil {
		return err
	}
	ids := make([]ID, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		rec := t.records[id]
		state := "ok"
		if got, ok := t.pathToID[rec.path]; !ok {
			state = "missing path entry"
		} else if got != id {
			state = fmt.Sprintf("path maps to %d", got)
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\tchildren=%d\t%s\n", id, rec.path, len(rec.children), state); err != nil {
			return err
		}
	}
	paths := make([]scene.Path, 0)
	for p, id := range t.pathToID {
		if _, ok := t.records[id]; !ok {
			paths = append(paths, p)
		}
	}
	for _, p := range scene.SortPaths(paths) {
		if _, err := fmt.Fprintf(w, "dangling\t%s\n", p); err != nil {
			return err
		}
	}
	return nil
}
