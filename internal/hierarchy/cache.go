// Package hierarchy wraps an id table behind expiring Proxy handles, the row
// identifiers a virtualized tree view holds on to.
//
// A Cache is single-threaded. Listener feeds it resync notifications without
// reentrancy, and Guard serializes access for multi-goroutine consumers and
// rebuilds the cache when a resync leaves it unusable.
package hierarchy

import (
	"errors"
	"fmt"

	"github.com/agentic-research/hiercache/internal/idtable"
	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/rs/zerolog"
)

var (
	ErrExpiredHandle     = errors.New("proxy has expired")
	ErrRootHasNoParent   = errors.New("root has no parent")
	ErrCapacityExhausted = errors.New("id capacity exhausted")
	ErrReentrantResync   = errors.New("resync already in progress")
	ErrIndexOutOfRange   = idtable.ErrIndexOutOfRange
)

// Proxy is an opaque row handle. The zero Proxy is never valid. Two proxies
// are equal exactly when they name the same still-registered node.
type Proxy struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether p is the zero Proxy.
func (p Proxy) IsZero() bool { return p.slot == 0 }

func (p Proxy) String() string {
	return fmt.Sprintf("proxy(%d@%d)", p.slot, p.gen)
}

// Cache materializes children lazily and hands out proxies for them.
type Cache struct {
	table  *idtable.Table
	arena  *arena
	rootID idtable.ID
	logger zerolog.Logger

	processing bool
}

type config struct {
	tableOpts []idtable.Option
	logger    zerolog.Logger
}

// Option configures New.
type Option func(*config)

// WithMaxID bounds the id space of the underlying table.
func WithMaxID(max idtable.ID) Option {
	return func(c *config) { c.tableOpts = append(c.tableOpts, idtable.WithMaxID(max)) }
}

// WithLogger sets the logger for the cache and its table.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
		c.tableOpts = append(c.tableOpts, idtable.WithLogger(l))
	}
}

// New builds a cache over src rooted at root. Only the root is registered.
func New(src scene.Source, root scene.Path, pred scene.Predicate, opts ...Option) (*Cache, error) {
	cfg := config{logger: zerolog.Nop()}
	for _, o := range opts {
		o(&cfg)
	}
	table, err := idtable.New(src, root, pred, cfg.tableOpts...)
	if err != nil {
		return nil, err
	}
	rootID, err := table.IDFromPath(root)
	if err != nil {
		return nil, err
	}
	return &Cache{
		table:  table,
		arena:  newArena(),
		rootID: rootID,
		logger: cfg.logger,
	}, nil
}

func (c *Cache) resolve(p Proxy) (idtable.ID, error) {
	id, ok := c.arena.get(p)
	if !ok || !c.table.ContainsID(id) {
		return idtable.NoID, fmt.Errorf("%w: %s", ErrExpiredHandle, p)
	}
	return id, nil
}

// Expired reports whether p no longer names a registered node.
func (c *Cache) Expired(p Proxy) bool {
	_, err := c.resolve(p)
	return err != nil
}

// Root returns the root proxy. It fails only after the root expired.
func (c *Cache) Root() (Proxy, error) {
	if !c.table.ContainsID(c.rootID) {
		return Proxy{}, fmt.Errorf("%w: root %s", ErrExpiredHandle, c.table.RootPath())
	}
	return c.arena.proxy(c.rootID), nil
}

// Child returns the proxy for the child at row, registering it on demand.
func (c *Cache) Child(parent Proxy, row int) (Proxy, error) {
	id, err := c.resolve(parent)
	if err != nil {
		return Proxy{}, err
	}
	ok, err := c.table.RegisterChild(id, row)
	if err != nil {
		return Proxy{}, err
	}
	if !ok {
		return Proxy{}, ErrCapacityExhausted
	}
	path, err := c.table.ChildPath(id, row)
	if err != nil {
		return Proxy{}, err
	}
	cid, err := c.table.IDFromPath(path)
	if err != nil {
		return Proxy{}, err
	}
	return c.arena.proxy(cid), nil
}

// ChildCount returns the number of known children, registered or not.
func (c *Cache) ChildCount(p Proxy) (int, error) {
	id, err := c.resolve(p)
	if err != nil {
		return 0, err
	}
	return c.table.ChildCount(id)
}

// ChildPath returns the path of the child at row without registering it.
func (c *Cache) ChildPath(p Proxy, row int) (scene.Path, error) {
	id, err := c.resolve(p)
	if err != nil {
		return "", err
	}
	return c.table.ChildPath(id, row)
}

// Parent returns the parent proxy. The root has none.
func (c *Cache) Parent(p Proxy) (Proxy, error) {
	id, err := c.resolve(p)
	if err != nil {
		return Proxy{}, err
	}
	if c.table.IsRoot(id) {
		return Proxy{}, ErrRootHasNoParent
	}
	pid, err := c.table.ParentID(id)
	if err != nil {
		return Proxy{}, err
	}
	return c.arena.proxy(pid), nil
}

// Row returns p's index among its parent's children.
func (c *Cache) Row(p Proxy) (int, error) {
	id, err := c.resolve(p)
	if err != nil {
		return 0, err
	}
	return c.table.Row(id)
}

func (c *Cache) IsRoot(p Proxy) bool {
	id, err := c.resolve(p)
	return err == nil && c.table.IsRoot(id)
}

// Proxy returns the proxy of a registered path.
func (c *Cache) Proxy(path scene.Path) (Proxy, error) {
	id, err := c.table.IDFromPath(path)
	if err != nil {
		return Proxy{}, err
	}
	return c.arena.proxy(id), nil
}

func (c *Cache) ContainsPath(path scene.Path) bool { return c.table.ContainsPath(path) }

func (c *Cache) Predicate() scene.Predicate { return c.table.Predicate() }

func (c *Cache) RootPath() scene.Path { return c.table.RootPath() }

// Path returns the path p names.
func (c *Cache) Path(p Proxy) (scene.Path, error) {
	id, err := c.resolve(p)
	if err != nil {
		return "", err
	}
	return c.table.PathFromID(id)
}

// Node returns the source node behind p.
func (c *Cache) Node(p Proxy) (scene.Node, error) {
	path, err := c.Path(p)
	if err != nil {
		return nil, err
	}
	src := c.table.Source()
	n, ok := src.NodeAt(path)
	if !ok || !src.IsValid(n) {
		return nil, fmt.Errorf("%w: %s", scene.ErrPrimNotFound, path)
	}
	return n, nil
}

// Source returns the scene source the cache reads from.
func (c *Cache) Source() scene.Source { return c.table.Source() }

// Stats summarizes the table behind the cache.
type Stats struct {
	Root       scene.Path `json:"root"`
	Registered int        `json:"registered"`
	LastID     uint32     `json:"last_id"`
	Proxies    int        `json:"proxies"`
	Desynced   bool       `json:"desynced"`
}

func (c *Cache) Stats() Stats {
	return Stats{
		Root:       c.table.RootPath(),
		Registered: c.table.Len(),
		LastID:     uint32(c.table.LastID()),
		Proxies:    c.arena.len(),
		Desynced:   c.table.Desynced(),
	}
}

// Table exposes the id table for diagnostics.
func (c *Cache) Table() *idtable.Table { return c.table }

// ResyncSubtrees folds a resync notification into the cache. Proxies for
// removed nodes expire; all others keep resolving, possibly at a new row.
// It must not be called while another resync is running.
func (c *Cache) ResyncSubtrees(paths []scene.Path) error {
	_, err := c.resync(paths)
	return err
}

func (c *Cache) resync(paths []scene.Path) (*idtable.Report, error) {
	if c.processing {
		return nil, ErrReentrantResync
	}
	c.processing = true
	defer func() { c.processing = false }()

	report, err := c.table.ResyncSubtrees(paths)
	if report != nil {
		it := report.Removed.Iterator()
		for it.HasNext() {
			c.arena.expire(idtable.ID(it.Next()))
		}
		c.logger.Debug().Int("paths", len(paths)).Uint64("removed", report.Removed.GetCardinality()).
			Int("refreshed", len(report.Refreshed)).Msg("resync")
	}
	return report, err
}

// Materialize returns the proxy for path, registering its ancestors below
// the root as needed.
func (c *Cache) Materialize(path scene.Path) (Proxy, error) {
	if c.table.ContainsPath(path) {
		return c.Proxy(path)
	}
	root := c.table.RootPath()
	if !path.HasPrefix(root) {
		return Proxy{}, fmt.Errorf("materialize %s: outside root %s: %w", path, root, idtable.ErrNotFound)
	}
	cur, err := c.Root()
	if err != nil {
		return Proxy{}, err
	}
	for _, name := range path.Split()[root.Depth():] {
		curPath, err := c.Path(cur)
		if err != nil {
			return Proxy{}, err
		}
		want := curPath.Append(name)
		n, err := c.ChildCount(cur)
		if err != nil {
			return Proxy{}, err
		}
		row := -1
		for i := 0; i < n; i++ {
			cp, err := c.ChildPath(cur, i)
			if err != nil {
				return Proxy{}, err
			}
			if cp == want {
				row = i
				break
			}
		}
		if row < 0 {
			return Proxy{}, fmt.Errorf("materialize %s: %w: %s", path, idtable.ErrNotFound, want)
		}
		if cur, err = c.Child(cur, row); err != nil {
			return Proxy{}, err
		}
	}
	return cur, nil
}
