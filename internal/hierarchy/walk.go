package hierarchy

import (
	"errors"

	"github.com/agentic-research/hiercache/internal/scene"
)

// SkipChildren returned from a WalkFunc skips the visited node's children.
var SkipChildren = errors.New("skip children")

// WalkFunc is called for every node visited by Walk. level is 0 for the
// starting node.
type WalkFunc func(p Proxy, path scene.Path, level int) error

// Walk visits p and its descendants depth-first in row order, registering
// children as it goes. Negative depth means unlimited.
func (c *Cache) Walk(p Proxy, depth int, fn WalkFunc) error {
	return c.walk(p, 0, depth, fn)
}

func (c *Cache) walk(p Proxy, level, depth int, fn WalkFunc) error {
	path, err := c.Path(p)
	if err != nil {
		return err
	}
	if err := fn(p, path, level); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	if depth >= 0 && level >= depth {
		return nil
	}
	n, err := c.ChildCount(p)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		child, err := c.Child(p, i)
		if err != nil {
			return err
		}
		if err := c.walk(child, level+1, depth, fn); err != nil {
			return err
		}
	}
	return nil
}
