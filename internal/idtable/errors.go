package idtable

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/hiercache/internal/scene"
)

var (
	ErrNotFound        = errors.New("not registered in id table")
	ErrIndexOutOfRange = errors.New("child index out of range")
	ErrInvalidRoot     = errors.New("root is missing or rejected by predicate")
	ErrStaleChild      = errors.New("child has expired in source")
	ErrDesynchronized  = errors.New("index desynchronized")
	ErrRootExpired     = errors.New("root expired during resync")
)

// LookupError reports a lookup on a key that is not registered, or an index
// past a parent's child count. It wraps ErrNotFound or ErrIndexOutOfRange.
type LookupError struct {
	Op    string
	ID    ID
	Path  scene.Path
	Index int
	Err   error
}

func (e *LookupError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	} else {
		fmt.Fprintf(&b, " id %d", e.ID)
	}
	if errors.Is(e.Err, ErrIndexOutOfRange) {
		fmt.Fprintf(&b, " index %d", e.Index)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *LookupError) Unwrap() error { return e.Err }

// DesyncError lists the children that did not match the resync set.
// Unexpected are children the source reports that were neither known nor
// resynced; Missing are known children that vanished without being resynced.
type DesyncError struct {
	Unexpected []scene.Path
	Missing    []scene.Path
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("%s: %d unexpected, %d missing (first: %s)",
		ErrDesynchronized, len(e.Unexpected), len(e.Missing), e.first())
}

func (e *DesyncError) first() scene.Path {
	if len(e.Unexpected) > 0 {
		return e.Unexpected[0]
	}
	if len(e.Missing) > 0 {
		return e.Missing[0]
	}
	return ""
}

func (e *DesyncError) Unwrap() error { return ErrDesynchronized }
