// Package filter computes tri-state "subtree contains a match" verdicts for
// every prim under a root, and a row filter that consults them.
package filter

import (
	"fmt"
	"strings"

	"github.com/agentic-research/hiercache/internal/scene"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
)

// State is the verdict for one path.
type State uint8

const (
	// Untraversed means no verdict was computed. It is the zero value.
	Untraversed State = iota
	// Accept means the prim or one of its descendants matches.
	Accept
	// Reject means neither the prim nor any descendant matches.
	Reject
	// intermediate marks a prim whose verdict depends on its children.
	intermediate
)

func (s State) String() string {
	switch s {
	case Untraversed:
		return "untraversed"
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "intermediate"
	}
}

// Verdict is what a custom filter decides for a single prim.
type Verdict uint8

const (
	// Descend accepts the prim only if one of its children is accepted.
	Descend Verdict = iota
	// Include accepts the prim, and its children are still evaluated.
	Include
	// Exclude rejects the prim without visiting its children.
	Exclude
)

// Func is a custom filter.
type Func func(n scene.Node) Verdict

// Options configures a Cache.
type Options struct {
	// CaseInsensitive compares display names and the substring after Unicode
	// case folding.
	CaseInsensitive bool
	Logger          *zerolog.Logger
}

// Cache holds the verdicts of the last applied filter. It is not safe for
// concurrent use.
type Cache struct {
	opts   Options
	logger zerolog.Logger
	states map[scene.Path]State
}

func New(opts Options) *Cache {
	c := &Cache{opts: opts, logger: zerolog.Nop(), states: make(map[scene.Path]State)}
	if opts.Logger != nil {
		c.logger = *opts.Logger
	}
	return c
}

// ApplyFilter replaces all verdicts with those of a substring match on
// display names under root.
func (c *Cache) ApplyFilter(src scene.Source, root scene.Path, substring string, pred scene.Predicate) error {
	return c.ApplyFunc(src, root, c.substringFunc(substring), pred)
}

func (c *Cache) substringFunc(substring string) Func {
	if c.opts.CaseInsensitive {
		fold := cases.Fold()
		needle := fold.String(substring)
		return func(n scene.Node) Verdict {
			if strings.Contains(fold.String(n.DisplayName()), needle) {
				return Include
			}
			return Descend
		}
	}
	return func(n scene.Node) Verdict {
		if strings.Contains(n.DisplayName(), substring) {
			return Include
		}
		return Descend
	}
}

// ApplyFunc replaces all verdicts with those of fn under root, traversing
// each prim accepted by pred once.
func (c *Cache) ApplyFunc(src scene.Source, root scene.Path, fn Func, pred scene.Predicate) error {
	c.states = make(map[scene.Path]State)
	n, ok := src.NodeAt(root)
	if !ok || !src.IsValid(n) {
		return fmt.Errorf("filter root %s: %w", root, scene.ErrPrimNotFound)
	}
	c.run(src, n, fn, pred)
	return nil
}

func (c *Cache) run(src scene.Source, n scene.Node, fn Func, pred scene.Predicate) State {
	var state State
	switch fn(n) {
	case Include:
		state = Accept
	case Exclude:
		state = Reject
	default:
		state = intermediate
	}
	if state != Reject {
		childAccepted := false
		for _, child := range src.FilteredChildren(n, pred) {
			if c.run(src, child, fn, pred) == Accept {
				childAccepted = true
			}
		}
		if state == intermediate {
			if childAccepted {
				state = Accept
			} else {
				state = Reject
			}
		}
	}
	c.logger.Debug().Str("path", string(n.Path())).Stringer("state", state).Msg("filter")
	c.states[n.Path()] = state
	return state
}

// State returns the verdict for path, Untraversed if it was not visited.
func (c *Cache) State(path scene.Path) State {
	return c.states[path]
}

// Accepted returns the accepted paths in sorted order.
func (c *Cache) Accepted() []scene.Path {
	var out []scene.Path
	for p, s := range c.states {
		if s == Accept {
			out = append(out, p)
		}
	}
	return scene.SortPaths(out)
}

// Len returns the number of paths with a verdict.
func (c *Cache) Len() int { return len(c.states) }

// Clear drops every verdict.
func (c *Cache) Clear() {
	c.states = make(map[scene.Path]State)
}
