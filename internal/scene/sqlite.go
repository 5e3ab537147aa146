package scene

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const primsSchema = `
CREATE TABLE IF NOT EXISTS prims (
	path TEXT PRIMARY KEY,
	parent TEXT NOT NULL,
	name TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	ordinal INTEGER NOT NULL,
	flags INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prims_parent ON prims(parent, ordinal);
`

// sqlNode is an immutable snapshot of one prims row.
type sqlNode struct {
	path    Path
	display string
	flags   Flags
}

func (n *sqlNode) Path() Path { return n.path }

func (n *sqlNode) DisplayName() string {
	if n.display != "" {
		return n.display
	}
	return n.path.Name()
}

func (n *sqlNode) Flags() Flags { return n.flags }

// SQLiteSource serves a scene from a prims table. The database may be
// rewritten by another process; the writer calls Resynced with the changed
// paths, which drops cached rows and notifies subscribers.
//
// Node and children lookups go through LRU caches so repeated tree-view
// queries on hot parents avoid a round trip.
type SQLiteSource struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger

	nodes    *lru.Cache[Path, *sqlNode]
	children *lru.Cache[Path, []Path]

	subsMu  sync.Mutex
	subs    map[int]func([]Path)
	nextSub int
}

// SQLiteOption configures OpenSQLite.
type SQLiteOption func(*sqliteConfig)

type sqliteConfig struct {
	cacheSize int
	logger    zerolog.Logger
	readOnly  bool
}

// WithCacheSize bounds the node and children caches (default 4096 each).
func WithCacheSize(n int) SQLiteOption {
	return func(c *sqliteConfig) { c.cacheSize = n }
}

// WithSourceLogger routes query errors to logger. Source methods cannot return
// errors, so failed queries are logged and treated as missing rows.
func WithSourceLogger(l zerolog.Logger) SQLiteOption {
	return func(c *sqliteConfig) { c.logger = l }
}

// WithReadOnly opens the database with mode=ro.
func WithReadOnly() SQLiteOption {
	return func(c *sqliteConfig) { c.readOnly = true }
}

// OpenSQLite opens a prims database, creating the table if needed.
func OpenSQLite(dbPath string, opts ...SQLiteOption) (*SQLiteSource, error) {
	cfg := sqliteConfig{cacheSize: 4096, logger: zerolog.Nop()}
	for _, o := range opts {
		o(&cfg)
	}
	dsn := dbPath
	if cfg.readOnly {
		dsn = "file:" + dbPath + "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(4)
	if !cfg.readOnly {
		if _, err := db.Exec(primsSchema); err != nil {
			_ = db.Close() // ignore error
			return nil, fmt.Errorf("create prims table: %w", err)
		}
	}
	nodes, err := lru.New[Path, *sqlNode](cfg.cacheSize)
	if err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("node cache: %w", err)
	}
	children, err := lru.New[Path, []Path](cfg.cacheSize)
	if err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("children cache: %w", err)
	}
	return &SQLiteSource{
		db:       db,
		path:     dbPath,
		logger:   cfg.logger,
		nodes:    nodes,
		children: children,
		subs:     make(map[int]func([]Path)),
	}, nil
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func (s *SQLiteSource) lookup(path Path) (*sqlNode, bool) {
	if n, ok := s.nodes.Get(path); ok {
		return n, n != nil
	}
	var (
		display string
		flags   int64
	)
	err := s.db.QueryRow(`SELECT display_name, flags FROM prims WHERE path = ?`, string(path)).Scan(&display, &flags)
	if err == sql.ErrNoRows {
		s.nodes.Add(path, nil)
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("path", string(path)).Msg("lookup prim")
		return nil, false
	}
	n := &sqlNode{path: path, display: display, flags: Flags(flags)}
	s.nodes.Add(path, n)
	return n, true
}

// NodeAt implements Source.
func (s *SQLiteSource) NodeAt(path Path) (Node, bool) {
	n, ok := s.lookup(path)
	if !ok {
		return nil, false
	}
	return n, true
}

// IsValid implements Source. A handle is valid while its row is the one
// currently cached for its path; Resynced drops the cache entry, so handles
// taken before a resync of their subtree become invalid.
func (s *SQLiteSource) IsValid(n Node) bool {
	sn, ok := n.(*sqlNode)
	if !ok || sn == nil {
		return false
	}
	cur, ok := s.lookup(sn.path)
	if !ok {
		return false
	}
	if cur == sn {
		return true
	}
	// Same row re-read after invalidation: equal contents keep the handle.
	return cur.display == sn.display && cur.flags == sn.flags
}

// FilteredChildren implements Source.
func (s *SQLiteSource) FilteredChildren(n Node, pred Predicate) []Node {
	if !s.IsValid(n) {
		return nil
	}
	paths, ok := s.children.Get(n.Path())
	if !ok {
		var err error
		paths, err = s.queryChildren(n.Path())
		if err != nil {
			s.logger.Error().Err(err).Str("path", string(n.Path())).Msg("query children")
			return nil
		}
		s.children.Add(n.Path(), paths)
	}
	out := make([]Node, 0, len(paths))
	for _, p := range paths {
		c, ok := s.lookup(p)
		if !ok {
			continue
		}
		if pred == nil || pred(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *SQLiteSource) queryChildren(parent Path) ([]Path, error) {
	rows, err := s.db.Query(`SELECT path FROM prims WHERE parent = ? ORDER BY ordinal`, string(parent))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Path
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, Path(p))
	}
	return out, rows.Err()
}

// Subscribe implements Notifier.
func (s *SQLiteSource) Subscribe(fn func(paths []Path)) (cancel func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

// Resynced drops every cached row at or below the given paths, plus the
// children lists of their parents, then notifies subscribers.
func (s *SQLiteSource) Resynced(paths ...Path) {
	paths = SortPaths(append([]Path(nil), paths...))
	if len(paths) == 0 {
		return
	}
	under := func(p Path) bool {
		for _, r := range paths {
			if p.HasPrefix(r) {
				return true
			}
		}
		return false
	}
	for _, k := range s.nodes.Keys() {
		if under(k) {
			s.nodes.Remove(k)
		}
	}
	for _, k := range s.children.Keys() {
		if under(k) {
			s.children.Remove(k)
		}
	}
	for _, r := range paths {
		s.children.Remove(r.Parent())
	}

	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]Path), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()
	for _, fn := range fns {
		fn(append([]Path(nil), paths...))
	}
}

// DB exposes the underlying handle for writers that mutate the prims table.
func (s *SQLiteSource) DB() *sql.DB { return s.db }

// ExportSQLite writes every prim of st into a fresh prims database at dbPath.
// An existing file is replaced.
func ExportSQLite(st *Stage, dbPath string) (int, error) {
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("remove %s: %w", dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec(primsSchema); err != nil {
		return 0, fmt.Errorf("create prims table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO prims (path, parent, name, display_name, ordinal, flags) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	count := 0
	err = st.Walk(func(n Node, ordinal int) error {
		p := n.(*prim)
		if _, err := stmt.Exec(string(p.path), string(p.path.Parent()), p.path.Name(), p.display, ordinal, int64(p.Flags())); err != nil {
			return fmt.Errorf("insert %s: %w", p.path, err)
		}
		count++
		return nil
	})
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

var (
	_ Source   = (*SQLiteSource)(nil)
	_ Notifier = (*SQLiteSource)(nil)
)
