// Package idvtab exposes registered hierarchy nodes to SQL as the
// hiercache_ids virtual table:
//
//	CREATE VIRTUAL TABLE ids USING hiercache_ids(<source id>);
//	SELECT path, child_count FROM ids WHERE parent = 1;
//
// Each query reads a fresh snapshot from the registered source, so the
// table follows the cache across resyncs.
package idvtab

import (
	"fmt"
	"strings"
	"sync"

	"modernc.org/sqlite/vtab"

	"github.com/agentic-research/hiercache/internal/idtable"
	"github.com/agentic-research/hiercache/internal/scene"
)

// ModuleName is the name used in CREATE VIRTUAL TABLE ... USING.
const ModuleName = "hiercache_ids"

// Row is one registered node.
type Row struct {
	ID         uint32
	Path       scene.Path
	Parent     uint32
	Row        int
	ChildCount int
}

// SnapshotFunc returns the current rows. It is called once per scan.
type SnapshotFunc func() ([]Row, error)

// Snapshot lists every registered node of t in ascending id order. t must
// not be mutated while Snapshot runs.
func Snapshot(t *idtable.Table) ([]Row, error) {
	live := t.Live()
	rows := make([]Row, 0, live.GetCardinality())
	it := live.Iterator()
	for it.HasNext() {
		id := idtable.ID(it.Next())
		path, err := t.PathFromID(id)
		if err != nil {
			return nil, err
		}
		parent, err := t.ParentID(id)
		if err != nil {
			return nil, err
		}
		row, err := t.Row(id)
		if err != nil {
			return nil, err
		}
		n, err := t.ChildCount(id)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{ID: uint32(id), Path: path, Parent: uint32(parent), Row: row, ChildCount: n})
	}
	return rows, nil
}

var (
	once      sync.Once
	singleton *Module
	initErr   error
)

// Module implements vtab.Module. modernc.org/sqlite registers modules with
// the driver, not a connection, so there is one per process.
type Module struct {
	mu      sync.RWMutex
	sources map[string]SnapshotFunc
}

// Register registers the module with the SQLite driver. Only the first call
// registers; every call returns the same Module.
func Register() (*Module, error) {
	once.Do(func() {
		singleton = &Module{sources: make(map[string]SnapshotFunc)}
		if err := vtab.RegisterModule(nil, ModuleName, singleton); err != nil {
			initErr = fmt.Errorf("idvtab: register module: %w", err)
			singleton = nil
		}
	})
	return singleton, initErr
}

// RegisterSource makes fn available as USING hiercache_ids(id).
func (m *Module) RegisterSource(id string, fn SnapshotFunc) {
	m.mu.Lock()
	m.sources[id] = fn
	m.mu.Unlock()
}

func (m *Module) UnregisterSource(id string) {
	m.mu.Lock()
	delete(m.sources, id)
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// vtab.Module
// ---------------------------------------------------------------------------

// Create expects args as module, database, table, then the USING arguments.
func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("%s: missing source id (expected USING %s(id))", ModuleName, ModuleName)
	}
	id := strings.Trim(args[3], `'"`)

	m.mu.RLock()
	fn, ok := m.sources[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: unknown source %q", ModuleName, id)
	}

	if err := ctx.Declare("CREATE TABLE x(id INTEGER, path TEXT, parent INTEGER, row INTEGER, child_count INTEGER)"); err != nil {
		return nil, err
	}
	return &idsTable{snapshot: fn}, nil
}

func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Create(ctx, args)
}

// ---------------------------------------------------------------------------
// vtab.Table
// ---------------------------------------------------------------------------

const (
	colID = iota
	colPath
	colParent
	colRow
	colChildCount
)

const (
	scanAll = iota
	scanID
	scanPath
	scanParent
)

type idsTable struct {
	snapshot SnapshotFunc
}

func (t *idsTable) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable || c.Op != vtab.OpEQ {
			continue
		}
		switch c.Column {
		case colID:
			info.IdxNum = scanID
		case colPath:
			info.IdxNum = scanPath
		case colParent:
			info.IdxNum = scanParent
		default:
			continue
		}
		c.ArgIndex = 0
		c.Omit = true
		info.EstimatedCost = 1
		info.EstimatedRows = 1
		return nil
	}
	info.IdxNum = scanAll
	info.EstimatedCost = 1e4
	info.EstimatedRows = 1e4
	return nil
}

func (t *idsTable) Open() (vtab.Cursor, error) {
	return &idsCursor{table: t}, nil
}

func (t *idsTable) Disconnect() error { return nil }
func (t *idsTable) Destroy() error    { return nil }

// ---------------------------------------------------------------------------
// vtab.Cursor
// ---------------------------------------------------------------------------

type idsCursor struct {
	table *idsTable
	rows  []Row
	pos   int
}

func (c *idsCursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	c.rows = nil
	c.pos = 0
	all, err := c.table.snapshot()
	if err != nil {
		return fmt.Errorf("%s: snapshot: %w", ModuleName, err)
	}
	if idxNum == scanAll {
		c.rows = all
		return nil
	}
	var keep func(Row) bool
	switch idxNum {
	case scanID, scanParent:
		want, ok := vals[0].(int64)
		if !ok {
			return nil
		}
		if idxNum == scanID {
			keep = func(r Row) bool { return int64(r.ID) == want }
		} else {
			keep = func(r Row) bool { return int64(r.Parent) == want }
		}
	case scanPath:
		want, ok := vals[0].(string)
		if !ok {
			return nil
		}
		keep = func(r Row) bool { return string(r.Path) == want }
	}
	for _, r := range all {
		if keep(r) {
			c.rows = append(c.rows, r)
		}
	}
	return nil
}

func (c *idsCursor) Next() error {
	c.pos++
	return nil
}

func (c *idsCursor) Eof() bool {
	return c.pos >= len(c.rows)
}

func (c *idsCursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	r := c.rows[c.pos]
	switch col {
	case colID:
		return int64(r.ID), nil
	case colPath:
		return string(r.Path), nil
	case colParent:
		return int64(r.Parent), nil
	case colRow:
		return int64(r.Row), nil
	case colChildCount:
		return int64(r.ChildCount), nil
	default:
		return nil, nil
	}
}

func (c *idsCursor) Rowid() (int64, error) {
	if c.pos >= len(c.rows) {
		return 0, nil
	}
	return int64(c.rows[c.pos].ID), nil
}

func (c *idsCursor) Close() error {
	c.rows = nil
	return nil
}
