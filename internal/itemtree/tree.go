// Package itemtree is a generic tree of keyed items with parent/child
// adjacency, optionally fetching each item's children on first access.
package itemtree

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

var (
	ErrItemNotFound    = errors.New("item not in tree")
	ErrDuplicateKey    = errors.New("duplicate item key")
	ErrIndexOutOfRange = errors.New("row out of range")
	ErrRootHasNoParent = errors.New("root item has no parent")
	ErrForgetRoot      = errors.New("cannot forget the root's children")
)

// Keyed is an item with a key unique within one tree.
type Keyed[K comparable] interface {
	Key() K
}

// FetchFunc returns the children of parent. It is called at most once per
// parent until ForgetChildren re-arms it.
type FetchFunc[T any] func(parent T) []T

// ChildAction selects what RemoveItems does with the children of removed items.
type ChildAction int

const (
	// Delete removes children recursively.
	Delete ChildAction = iota
	// Reparent moves children to the nearest surviving ancestor, appended in
	// their relative order.
	Reparent
)

// Tree holds items keyed by K. It is not safe for concurrent use.
type Tree[K comparable, T Keyed[K]] struct {
	root             T
	parentToChildren map[K][]K
	childToParent    map[K]K
	keyToItem        map[K]T

	fetch        FetchFunc[T]
	unfetched    map[K]struct{}
	blockUpdates bool
}

// New returns an eager tree containing only root.
func New[K comparable, T Keyed[K]](root T) *Tree[K, T] {
	rk := root.Key()
	return &Tree[K, T]{
		root:             root,
		parentToChildren: map[K][]K{rk: nil},
		childToParent:    make(map[K]K),
		keyToItem:        map[K]T{rk: root},
		unfetched:        make(map[K]struct{}),
	}
}

// NewLazy returns a tree whose children are produced by fetch on demand.
func NewLazy[K comparable, T Keyed[K]](root T, fetch FetchFunc[T]) *Tree[K, T] {
	t := New[K, T](root)
	t.fetch = fetch
	t.unfetched[root.Key()] = struct{}{}
	return t
}

func (t *Tree[K, T]) Root() T { return t.root }

// Len returns the number of items excluding the root.
func (t *Tree[K, T]) Len() int { return len(t.keyToItem) - 1 }

// Empty reports whether the tree holds only its root.
func (t *Tree[K, T]) Empty() bool { return t.Len() == 0 }

func (t *Tree[K, T]) Contains(key K) bool {
	_, ok := t.keyToItem[key]
	return ok
}

// ItemByKey returns the item stored under key.
func (t *Tree[K, T]) ItemByKey(key K) (T, error) {
	item, ok := t.keyToItem[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrItemNotFound, key)
	}
	return item, nil
}

// childKeys returns parent's children, fetching them first if needed.
func (t *Tree[K, T]) childKeys(parent K) ([]K, error) {
	children, ok := t.parentToChildren[parent]
	if !ok {
		return nil, fmt.Errorf("%w: parent %v", ErrItemNotFound, parent)
	}
	if _, pending := t.unfetched[parent]; !pending {
		return children, nil
	}
	if t.blockUpdates {
		return nil, nil
	}
	delete(t.unfetched, parent)
	if fetched := t.fetch(t.keyToItem[parent]); len(fetched) > 0 {
		if err := t.AddItems(parent, fetched...); err != nil {
			return nil, fmt.Errorf("fetch children of %v: %w", parent, err)
		}
	}
	return t.parentToChildren[parent], nil
}

func (t *Tree[K, T]) ChildCount(parent K) (int, error) {
	children, err := t.childKeys(parent)
	if err != nil {
		return 0, err
	}
	return len(children), nil
}

// Children returns a copy of parent's children in order.
func (t *Tree[K, T]) Children(parent K) ([]T, error) {
	children, err := t.childKeys(parent)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(children))
	for i, k := range children {
		out[i] = t.keyToItem[k]
	}
	return out, nil
}

func (t *Tree[K, T]) ChildAtRow(parent K, row int) (T, error) {
	var zero T
	children, err := t.childKeys(parent)
	if err != nil {
		return zero, err
	}
	if row < 0 || row >= len(children) {
		return zero, fmt.Errorf("%w: row %d of %v (%d children)", ErrIndexOutOfRange, row, parent, len(children))
	}
	return t.keyToItem[children[row]], nil
}

// RowIndex returns key's position among its parent's children.
func (t *Tree[K, T]) RowIndex(key K) (int, error) {
	if key == t.root.Key() {
		return 0, nil
	}
	parent, ok := t.childToParent[key]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrItemNotFound, key)
	}
	return slices.Index(t.parentToChildren[parent], key), nil
}

func (t *Tree[K, T]) Parent(key K) (T, error) {
	var zero T
	if key == t.root.Key() {
		return zero, ErrRootHasNoParent
	}
	parent, ok := t.childToParent[key]
	if !ok {
		return zero, fmt.Errorf("%w: %v", ErrItemNotFound, key)
	}
	return t.keyToItem[parent], nil
}

// AddItems appends items as children of parent. No item is added if any key
// is already present or repeated.
func (t *Tree[K, T]) AddItems(parent K, items ...T) error {
	if _, ok := t.parentToChildren[parent]; !ok {
		return fmt.Errorf("%w: parent %v", ErrItemNotFound, parent)
	}
	seen := make(map[K]struct{}, len(items))
	for _, item := range items {
		k := item.Key()
		if _, ok := t.keyToItem[k]; ok {
			return fmt.Errorf("%w: %v shadows an existing item", ErrDuplicateKey, k)
		}
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: %v repeated", ErrDuplicateKey, k)
		}
		seen[k] = struct{}{}
	}
	for _, item := range items {
		k := item.Key()
		t.keyToItem[k] = item
		t.parentToChildren[k] = nil
		t.childToParent[k] = parent
		if t.fetch != nil {
			t.unfetched[k] = struct{}{}
		}
		t.parentToChildren[parent] = append(t.parentToChildren[parent], k)
	}
	return nil
}

// RemoveItems removes the given items and returns every removed item. The
// root and keys not in the tree are ignored.
func (t *Tree[K, T]) RemoveItems(action ChildAction, keys ...K) []T {
	prev := t.blockUpdates
	t.blockUpdates = true
	defer func() { t.blockUpdates = prev }()

	rk := t.root.Key()
	targets := make(map[K]struct{}, len(keys))
	ordered := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, dup := targets[k]; dup || k == rk || !t.Contains(k) {
			continue
		}
		targets[k] = struct{}{}
		ordered = append(ordered, k)
	}

	var removed []T
	for _, k := range ordered {
		// Already gone as a descendant of an earlier deletion.
		if !t.Contains(k) {
			continue
		}
		children := t.parentToChildren[k]
		if len(children) > 0 {
			switch action {
			case Delete:
				removed = append(removed, t.RemoveItems(Delete, slices.Clone(children)...)...)
			case Reparent:
				newParent := t.childToParent[k]
				for {
					if _, gone := targets[newParent]; !gone || !t.Contains(newParent) {
						break
					}
					newParent = t.childToParent[newParent]
				}
				t.parentToChildren[newParent] = append(t.parentToChildren[newParent], children...)
				for _, c := range children {
					t.childToParent[c] = newParent
				}
			}
		}
		parent := t.childToParent[k]
		t.parentToChildren[parent] = slices.DeleteFunc(t.parentToChildren[parent], func(c K) bool { return c == k })
		removed = append(removed, t.keyToItem[k])
		delete(t.childToParent, k)
		delete(t.parentToChildren, k)
		delete(t.keyToItem, k)
		delete(t.unfetched, k)
	}
	return removed
}

// ForgetChildren removes parent's subtree and re-arms the fetch hook so the
// next access fetches its children again.
func (t *Tree[K, T]) ForgetChildren(parent K) ([]T, error) {
	if parent == t.root.Key() {
		return nil, ErrForgetRoot
	}
	children, ok := t.parentToChildren[parent]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrItemNotFound, parent)
	}
	removed := t.RemoveItems(Delete, slices.Clone(children)...)
	t.parentToChildren[parent] = nil
	if t.fetch != nil {
		t.unfetched[parent] = struct{}{}
	}
	return removed, nil
}

// Walk visits the descendants of start breadth-first. Lazy children are
// fetched as they are reached.
func (t *Tree[K, T]) Walk(start K, fn func(item T) error) error {
	queue, err := t.childKeys(start)
	if err != nil {
		return err
	}
	queue = slices.Clone(queue)
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		children, err := t.childKeys(k)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
		if err := fn(t.keyToItem[k]); err != nil {
			return err
		}
	}
	return nil
}

// Items iterates over every key/item pair, root included, in no particular
// order.
func (t *Tree[K, T]) Items() iter.Seq2[K, T] {
	return func(yield func(K, T) bool) {
		for k, v := range t.keyToItem {
			if !yield(k, v) {
				return
			}
		}
	}
}
