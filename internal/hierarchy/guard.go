package hierarchy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/agentic-research/hiercache/internal/idtable"
	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/rs/zerolog"
)

// Factory builds a fresh cache, typically with the same source, root and
// predicate as the one it replaces.
type Factory func() (*Cache, error)

// Guard owns the current cache for callers on several goroutines. A resync
// that leaves the cache unusable triggers a rebuild from the factory, which
// views observe as a full model reset.
type Guard struct {
	mu      sync.Mutex
	current *Cache
	factory Factory
	onReset func(cause error)
	logger  zerolog.Logger
	resets  int
}

// GuardOption configures NewGuard.
type GuardOption func(*Guard)

// OnReset is called, with the guard's lock held, after every rebuild.
func OnReset(fn func(cause error)) GuardOption {
	return func(g *Guard) { g.onReset = fn }
}

// WithGuardLogger sets the guard's logger.
func WithGuardLogger(l zerolog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard builds the initial cache.
func NewGuard(factory Factory, opts ...GuardOption) (*Guard, error) {
	g := &Guard{factory: factory, logger: zerolog.Nop()}
	for _, o := range opts {
		o(g)
	}
	c, err := factory()
	if err != nil {
		return nil, err
	}
	g.current = c
	return g, nil
}

// With runs fn against the current cache while holding the guard's lock.
// Proxies obtained inside fn must not be used after a later reset.
//
// The lock is not reentrant: fn must not mutate a source whose notifications
// reach this guard synchronously (for instance a Stage feeding a Listener
// that targets g), or the resync they trigger deadlocks.
func (g *Guard) With(fn func(c *Cache) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		if err := g.rebuild(errors.New("previous rebuild failed")); err != nil {
			return err
		}
	}
	return fn(g.current)
}

// Swap replaces the current cache.
func (g *Guard) Swap(c *Cache) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = c
}

// Resets returns the number of rebuilds so far.
func (g *Guard) Resets() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resets
}

// ResyncSubtrees forwards to the current cache and rebuilds it when the
// resync reports desynchronization, root expiry or an unexpected lookup
// failure. A successful rebuild absorbs the error.
func (g *Guard) ResyncSubtrees(paths []scene.Path) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return g.rebuild(errors.New("previous rebuild failed"))
	}
	err := g.current.ResyncSubtrees(paths)
	if err == nil || !NeedsReset(err) {
		return err
	}
	return g.rebuild(err)
}

// NeedsReset reports whether a resync error leaves a cache unusable, so the
// caller should rebuild it rather than continue.
func NeedsReset(err error) bool {
	return errors.Is(err, idtable.ErrDesynchronized) ||
		errors.Is(err, idtable.ErrRootExpired) ||
		errors.Is(err, idtable.ErrNotFound) ||
		errors.Is(err, idtable.ErrIndexOutOfRange)
}

func (g *Guard) rebuild(cause error) error {
	g.logger.Warn().Err(cause).Msg("rebuilding hierarchy cache")
	c, err := g.factory()
	if err != nil {
		g.current = nil
		return fmt.Errorf("rebuild after %v: %w", cause, err)
	}
	g.current = c
	g.resets++
	if g.onReset != nil {
		g.onReset(cause)
	}
	return nil
}
