package scene

import (
	"slices"
	"strings"
)

// Path is a slash-delimited hierarchical prim path. "/" is the pseudo-root.
// The empty Path is the parent of the pseudo-root and names nothing.
type Path string

// RootPath is the pseudo-root of every stage.
const RootPath Path = "/"

// IsRoot reports whether p is the pseudo-root.
func (p Path) IsRoot() bool { return p == RootPath }

// IsEmpty reports whether p is the empty path.
func (p Path) IsEmpty() bool { return p == "" }

// Name returns the final path element. The root's name is empty.
func (p Path) Name() string {
	if p.IsRoot() || p.IsEmpty() {
		return ""
	}
	s := string(p)
	return s[strings.LastIndexByte(s, '/')+1:]
}

// Parent returns the parent path. The parent of "/" is the empty path.
func (p Path) Parent() Path {
	if p.IsRoot() || p.IsEmpty() {
		return ""
	}
	s := string(p)
	idx := strings.LastIndexByte(s, '/')
	if idx <= 0 {
		return RootPath
	}
	return Path(s[:idx])
}

// Append returns the child path with the given name.
func (p Path) Append(name string) Path {
	if p.IsRoot() {
		return Path("/" + name)
	}
	return Path(string(p) + "/" + name)
}

// HasPrefix reports whether p equals ancestor or lies below it.
func (p Path) HasPrefix(ancestor Path) bool {
	if ancestor.IsRoot() {
		return !p.IsEmpty()
	}
	if p == ancestor {
		return true
	}
	return strings.HasPrefix(string(p), string(ancestor)+"/")
}

// Split returns the path elements below the root.
// E.g. "/World/A" → ["World", "A"].
func (p Path) Split() []string {
	if p.IsRoot() || p.IsEmpty() {
		return nil
	}
	return strings.Split(strings.TrimPrefix(string(p), "/"), "/")
}

// Depth returns the number of elements below the root.
func (p Path) Depth() int {
	if p.IsRoot() || p.IsEmpty() {
		return 0
	}
	return strings.Count(string(p), "/")
}

func (p Path) String() string { return string(p) }

// Clean normalizes a user-supplied path: leading slash, no trailing slash,
// no empty elements.
func Clean(s string) Path {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return RootPath
	}
	return Path("/" + strings.Join(parts, "/"))
}

// SortPaths sorts and de-duplicates paths in place, returning the result.
func SortPaths(paths []Path) []Path {
	if len(paths) == 0 {
		return paths
	}
	slices.Sort(paths)
	out := paths[:1]
	for _, p := range paths[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
