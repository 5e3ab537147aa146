// Package control publishes hierarchy resets through a memory-mapped control
// file. A process serving a hierarchy bumps the generation every time its
// cache is rebuilt; other processes map the same file and reset their views
// when the generation changes.
package control

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ControlSize = 4096       // 1 page
	Magic       = 0x48434342 // 'HCCB'
	Version     = 1
)

// Block is the layout of the control file.
type Block struct {
	Magic      uint32
	Version    uint32
	Generation uint64 // atomic
	Root       [256]byte
	Registered uint64 // atomic
	Padding    [ControlSize - 280]byte
}

// Controller manages the memory-mapped control file.
type Controller struct {
	path string
	file *os.File
	data []byte
	ptr  *Block
}

// OpenOrCreate maps the control file at path, creating and initializing it
// when it does not exist yet.
func OpenOrCreate(path string) (*Controller, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("control %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("control %s: %w", path, err)
	}
	c, err := mapFile(path, f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("control %s: %w", path, err)
	}
	return c, nil
}

func mapFile(path string, f *os.File) (*Controller, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < ControlSize {
		if err := f.Truncate(ControlSize); err != nil {
			return nil, err
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, ControlSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	b := (*Block)(unsafe.Pointer(&data[0]))
	switch {
	case b.Magic == 0:
		b.Magic, b.Version = Magic, Version
	case b.Magic != Magic:
		magic := b.Magic
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("bad magic %#x", magic)
	case b.Version != Version:
		version := b.Version
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("unsupported version %d", version)
	}
	return &Controller{path: path, file: f, data: data, ptr: b}, nil
}

// Generation returns the current generation atomically.
func (c *Controller) Generation() uint64 {
	return atomic.LoadUint64(&c.ptr.Generation)
}

// Registered returns the node count last published.
func (c *Controller) Registered() uint64 {
	return atomic.LoadUint64(&c.ptr.Registered)
}

// Root returns the published cache root path.
func (c *Controller) Root() string {
	b := c.ptr.Root[:]
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// SetRoot records the cache root. Call it before the first Bump.
func (c *Controller) SetRoot(root string) error {
	if len(root) >= len(c.ptr.Root) {
		return fmt.Errorf("root path too long (max %d)", len(c.ptr.Root)-1)
	}
	copy(c.ptr.Root[:], root)
	c.ptr.Root[len(root)] = 0
	return nil
}

// SetRegistered publishes the number of registered nodes.
func (c *Controller) SetRegistered(n int) {
	atomic.StoreUint64(&c.ptr.Registered, uint64(n))
}

// Bump advances the generation and returns the new value.
func (c *Controller) Bump() uint64 {
	return atomic.AddUint64(&c.ptr.Generation, 1)
}

// Close unmaps and closes the control file.
func (c *Controller) Close() error {
	if err := unix.Munmap(c.data); err != nil {
		return err
	}
	return c.file.Close()
}
