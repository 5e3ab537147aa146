package scene

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agentic-research/hiercache/api"
)

// prim is the Stage's node handle. A removed prim keeps its fields so stale
// handles can still report their path, but IsValid returns false for it.
// path and display never change; flags is atomic because predicates read it
// without the stage lock.
type prim struct {
	path     Path
	display  string
	flags    atomic.Uint32
	children []Path
	removed  bool

	variantSets []api.VariantSet
	selections  map[string]string
}

func (p *prim) Path() Path { return p.path }

func (p *prim) DisplayName() string {
	if p.display != "" {
		return p.display
	}
	return p.path.Name()
}

func (p *prim) Flags() Flags { return Flags(p.flags.Load()) }

func newPrim(path Path, display string, flags Flags) *prim {
	p := &prim{path: path, display: display}
	p.flags.Store(uint32(flags))
	return p
}

// Stage is an in-memory, mutable scene graph. Mutations emit resync
// notifications to subscribers; inside a change block (Begin/End) the
// resynced paths are batched and delivered once at the outermost End.
type Stage struct {
	mu    sync.RWMutex
	prims map[Path]*prim

	session   *api.Layer
	rootLayer *api.Layer

	subsMu  sync.Mutex
	subs    map[int]func([]Path)
	nextSub int

	blockDepth int
	pending    []Path
}

// NewStage creates a stage holding only the pseudo-root.
func NewStage() *Stage {
	s := &Stage{
		prims: make(map[Path]*prim),
		subs:  make(map[int]func([]Path)),
	}
	s.prims[RootPath] = newPrim(RootPath, "", DefaultFlags)
	return s
}

// NodeAt implements Source.
func (s *Stage) NodeAt(path Path) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prims[path]
	if !ok {
		return nil, false
	}
	return p, true
}

// IsValid implements Source.
func (s *Stage) IsValid(n Node) bool {
	p, ok := n.(*prim)
	if !ok || p == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !p.removed && s.prims[p.path] == p
}

// FilteredChildren implements Source.
func (s *Stage) FilteredChildren(n Node, pred Predicate) []Node {
	p, ok := n.(*prim)
	if !ok || p == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p.removed {
		return nil
	}
	out := make([]Node, 0, len(p.children))
	for _, cp := range p.children {
		c := s.prims[cp]
		if c == nil {
			continue
		}
		if pred == nil || pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// Subscribe implements Notifier.
func (s *Stage) Subscribe(fn func(paths []Path)) (cancel func()) {
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

// Begin opens a change block. Blocks nest.
func (s *Stage) Begin() {
	s.mu.Lock()
	s.blockDepth++
	s.mu.Unlock()
}

// End closes a change block and, at the outermost level, delivers every
// path resynced inside it as a single notification.
func (s *Stage) End() {
	s.mu.Lock()
	if s.blockDepth == 0 {
		s.mu.Unlock()
		panic("scene: End without Begin")
	}
	s.blockDepth--
	var paths []Path
	if s.blockDepth == 0 {
		paths = SortPaths(s.pending)
		s.pending = nil
	}
	s.mu.Unlock()
	s.deliver(paths)
}

// Changes runs fn inside a change block.
func (s *Stage) Changes(fn func() error) error {
	s.Begin()
	defer s.End()
	return fn()
}

// resynced records a path; must be called with s.mu held. It returns the
// paths to deliver immediately (nil inside a change block).
func (s *Stage) resynced(path Path) []Path {
	if s.blockDepth > 0 {
		s.pending = append(s.pending, path)
		return nil
	}
	return []Path{path}
}

// deliver runs subscribers without holding any stage lock, so handlers may
// query or even mutate the stage.
func (s *Stage) deliver(paths []Path) {
	if len(paths) == 0 {
		return
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
		fn(slices.Clone(paths))
	}
}

// PrimSpec describes a prim to define.
type PrimSpec struct {
	DisplayName string
	Flags       Flags
	VariantSets []api.VariantSet
	Selections  map[string]string
}

// DefinePrim adds a prim named name as the last child of parent.
func (s *Stage) DefinePrim(parent Path, name string, spec PrimSpec) (Path, error) {
	return s.InsertPrim(parent, name, -1, spec)
}

// InsertPrim adds a prim at the given child position (negative appends).
func (s *Stage) InsertPrim(parent Path, name string, at int, spec PrimSpec) (Path, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.mu.Lock()
	pp, ok := s.prims[parent]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrPrimNotFound, parent)
	}
	path := parent.Append(name)
	if _, exists := s.prims[path]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrPrimExists, path)
	}
	p := newPrim(path, spec.DisplayName, spec.Flags)
	p.variantSets, p.selections = spec.VariantSets, spec.Selections
	s.prims[path] = p
	if at < 0 || at >= len(pp.children) {
		pp.children = append(pp.children, path)
	} else {
		pp.children = slices.Insert(pp.children, at, path)
	}
	out := s.resynced(path)
	s.mu.Unlock()
	s.deliver(out)
	return path, nil
}

// RemovePrim removes the prim and its whole subtree.
func (s *Stage) RemovePrim(path Path) error {
	if path.IsRoot() {
		return fmt.Errorf("%w: cannot remove the pseudo-root", ErrInvalidName)
	}
	s.mu.Lock()
	p, ok := s.prims[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrimNotFound, path)
	}
	if parent := s.prims[path.Parent()]; parent != nil {
		parent.children = slices.DeleteFunc(parent.children, func(c Path) bool { return c == path })
	}
	s.removeSubtree(p)
	out := s.resynced(path)
	s.mu.Unlock()
	s.deliver(out)
	return nil
}

func (s *Stage) removeSubtree(p *prim) {
	for _, c := range p.children {
		if cp := s.prims[c]; cp != nil {
			s.removeSubtree(cp)
		}
	}
	p.removed = true
	delete(s.prims, p.path)
}

// SetFlags replaces a prim's state bits. Activation changes are resyncs.
func (s *Stage) SetFlags(path Path, flags Flags) error {
	s.mu.Lock()
	p, ok := s.prims[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrimNotFound, path)
	}
	p.flags.Store(uint32(flags))
	out := s.resynced(path)
	s.mu.Unlock()
	s.deliver(out)
	return nil
}

// ReorderChildren sets the display order of parent's children. names must be
// a permutation of the current child names. The parent is resynced.
func (s *Stage) ReorderChildren(parent Path, names []string) error {
	s.mu.Lock()
	p, ok := s.prims[parent]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrimNotFound, parent)
	}
	if len(names) != len(p.children) {
		s.mu.Unlock()
		return fmt.Errorf("reorder %s: got %d names, have %d children", parent, len(names), len(p.children))
	}
	ordered := make([]Path, 0, len(names))
	for _, n := range names {
		cp := parent.Append(n)
		if !slices.Contains(p.children, cp) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrPrimNotFound, cp)
		}
		ordered = append(ordered, cp)
	}
	p.children = ordered
	out := s.resynced(parent)
	s.mu.Unlock()
	s.deliver(out)
	return nil
}

// SetVariantSelection records a variant selection on a prim. Switching a
// variant can recompose the prim's subtree, so the prim is resynced.
func (s *Stage) SetVariantSelection(path Path, set, variant string) error {
	s.mu.Lock()
	p, ok := s.prims[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrimNotFound, path)
	}
	if p.selections == nil {
		p.selections = make(map[string]string)
	}
	if variant == "" {
		delete(p.selections, set)
	} else {
		p.selections[set] = variant
	}
	out := s.resynced(path)
	s.mu.Unlock()
	s.deliver(out)
	return nil
}

// VariantSets returns the variant sets authored directly on a prim.
func (s *Stage) VariantSets(path Path) ([]api.VariantSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prims[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPrimNotFound, path)
	}
	return p.variantSets, nil
}

// VariantSelection returns the selected variant of set on a prim.
func (s *Stage) VariantSelection(path Path, set string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prims[path]; ok {
		return p.selections[set]
	}
	return ""
}

// SetLayers records the stage's layer stack: an optional session layer and
// the root layer tree.
func (s *Stage) SetLayers(session, root *api.Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.rootLayer = root
}

// SessionLayer returns the session layer, if any.
func (s *Stage) SessionLayer() (*api.Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.session != nil
}

// RootLayer returns the root of the layer tree, if any.
func (s *Stage) RootLayer() (*api.Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootLayer, s.rootLayer != nil
}

// Len returns the number of live prims including the pseudo-root.
func (s *Stage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prims)
}

// Walk visits every live prim depth-first in child order, ignoring predicates.
// The traversal works on a snapshot, so fn may query the stage.
func (s *Stage) Walk(fn func(n Node, ordinal int) error) error {
	type visit struct {
		n       *prim
		ordinal int
	}
	var order []visit
	s.mu.RLock()
	var collect func(p *prim, ordinal int)
	collect = func(p *prim, ordinal int) {
		order = append(order, visit{p, ordinal})
		for i, c := range p.children {
			if cp := s.prims[c]; cp != nil {
				collect(cp, i)
			}
		}
	}
	collect(s.prims[RootPath], 0)
	s.mu.RUnlock()

	for _, v := range order {
		if err := fn(v.n, v.ordinal); err != nil {
			return err
		}
	}
	return nil
}

// Compile-time interface checks.
var (
	_ Source   = (*Stage)(nil)
	_ Notifier = (*Stage)(nil)
)
