// Package nfsmount exposes a hierarchy cache as a read-only billy.Filesystem
// served over willscott/go-nfs. Every prim below the cache root is a
// directory; each directory carries a virtual .prim.json describing the prim
// and the mount root carries _index.json with the cache stats.
//
// Directories are materialized lazily: listing a directory registers its
// children in the cache and nothing deeper.
package nfsmount

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/rs/zerolog"

	"github.com/agentic-research/hiercache/internal/hierarchy"
	"github.com/agentic-research/hiercache/internal/scene"
)

const (
	PrimFile  = ".prim.json"
	IndexFile = "_index.json"
)

var errReadOnly = errors.New("read-only filesystem")

// PrimInfo is the content of a .prim.json file.
type PrimInfo struct {
	Path        scene.Path `json:"path"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Flags       string     `json:"flags"`
	Row         int        `json:"row"`
	Children    int        `json:"children"`
}

// SceneFS adapts a hierarchy.Guard to billy.Filesystem.
type SceneFS struct {
	guard     *hierarchy.Guard
	mountTime time.Time
	logger    zerolog.Logger
}

type FSOption func(*SceneFS)

func WithFSLogger(l zerolog.Logger) FSOption {
	return func(fs *SceneFS) { fs.logger = l }
}

func NewSceneFS(g *hierarchy.Guard, opts ...FSOption) *SceneFS {
	fs := &SceneFS{guard: g, mountTime: time.Now(), logger: zerolog.Nop()}
	for _, o := range opts {
		o(fs)
	}
	return fs
}

// --- billy.Basic ---

func (fs *SceneFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *SceneFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *SceneFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, errReadOnly
	}
	filename = cleanPath(filename)
	if err := fs.exists(filename); err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: err}
	}
	return &virtualFile{
		name:   filepath.Base(filename),
		render: func() ([]byte, error) { return fs.virtual(filename) },
	}, nil
}

func (fs *SceneFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *SceneFS) Rename(oldpath, newpath string) error { return errReadOnly }

func (fs *SceneFS) Remove(filename string) error { return errReadOnly }

func (fs *SceneFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *SceneFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *SceneFS) ReadDir(dir string) ([]os.FileInfo, error) {
	dir = cleanPath(dir)
	if isVirtual(filepath.Base(dir)) {
		return nil, &os.PathError{Op: "readdir", Path: dir, Err: errors.New("not a directory")}
	}

	var (
		names []string
		info  []byte
	)
	err := fs.guard.With(func(c *hierarchy.Cache) error {
		p, err := c.Materialize(fs.primPath(c, dir))
		if err != nil {
			return err
		}
		if info, err = primJSON(c, p); err != nil {
			return err
		}
		n, err := c.ChildCount(p)
		if err != nil {
			return err
		}
		names = make([]string, 0, n)
		for i := 0; i < n; i++ {
			child, err := c.Child(p, i)
			if err != nil {
				return err
			}
			cp, err := c.Path(child)
			if err != nil {
				return err
			}
			names = append(names, cp.Name())
		}
		return nil
	})
	if err != nil {
		fs.logger.Debug().Err(err).Str("dir", dir).Msg("readdir")
		return nil, &os.PathError{Op: "readdir", Path: dir, Err: os.ErrNotExist}
	}

	infos := make([]os.FileInfo, 0, len(names)+2)
	if dir == "/" {
		index, err := fs.index()
		if err != nil {
			return nil, err
		}
		infos = append(infos, fs.fileInfo(IndexFile, len(index)))
	}
	infos = append(infos, fs.fileInfo(PrimFile, len(info)))
	for _, name := range names {
		infos = append(infos, fs.dirInfo(name))
	}
	return infos, nil
}

func (fs *SceneFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *SceneFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)
	if filename == "/" {
		return fs.dirInfo("/"), nil
	}
	if isVirtual(filepath.Base(filename)) {
		data, err := fs.virtual(filename)
		if err != nil {
			return nil, &os.PathError{Op: "lstat", Path: filename, Err: err}
		}
		return fs.fileInfo(filepath.Base(filename), len(data)), nil
	}
	err := fs.guard.With(func(c *hierarchy.Cache) error {
		_, err := c.Materialize(fs.primPath(c, filename))
		return err
	})
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
	}
	return fs.dirInfo(filepath.Base(filename)), nil
}

func (fs *SceneFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *SceneFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *SceneFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *SceneFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *SceneFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// --- internals ---

// primPath maps a filesystem path onto the scene below the cache root.
func (fs *SceneFS) primPath(c *hierarchy.Cache, name string) scene.Path {
	p := c.RootPath()
	for _, elem := range scene.Clean(name).Split() {
		p = p.Append(elem)
	}
	return p
}

// exists reports whether filename names a virtual file without rendering it.
func (fs *SceneFS) exists(filename string) error {
	switch {
	case filename == "/"+IndexFile:
		return nil
	case filepath.Base(filename) == PrimFile:
		err := fs.guard.With(func(c *hierarchy.Cache) error {
			_, err := c.Materialize(fs.primPath(c, filepath.Dir(filename)))
			return err
		})
		if err != nil {
			return os.ErrNotExist
		}
		return nil
	}
	return os.ErrNotExist
}

// virtual renders the content of a virtual file.
func (fs *SceneFS) virtual(filename string) ([]byte, error) {
	base := filepath.Base(filename)
	switch {
	case filename == "/"+IndexFile:
		return fs.index()
	case base == PrimFile:
		var data []byte
		err := fs.guard.With(func(c *hierarchy.Cache) error {
			p, err := c.Materialize(fs.primPath(c, filepath.Dir(filename)))
			if err != nil {
				return err
			}
			data, err = primJSON(c, p)
			return err
		})
		if err != nil {
			fs.logger.Debug().Err(err).Str("file", filename).Msg("prim info")
			return nil, os.ErrNotExist
		}
		return data, nil
	}
	return nil, os.ErrNotExist
}

func (fs *SceneFS) index() ([]byte, error) {
	var stats hierarchy.Stats
	if err := fs.guard.With(func(c *hierarchy.Cache) error {
		stats = c.Stats()
		return nil
	}); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func primJSON(c *hierarchy.Cache, p hierarchy.Proxy) ([]byte, error) {
	n, err := c.Node(p)
	if err != nil {
		return nil, err
	}
	row, err := c.Row(p)
	if err != nil {
		return nil, err
	}
	count, err := c.ChildCount(p)
	if err != nil {
		return nil, err
	}
	info := PrimInfo{
		Path:        n.Path(),
		Name:        n.Path().Name(),
		DisplayName: n.DisplayName(),
		Flags:       n.Flags().String(),
		Row:         row,
		Children:    count,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", n.Path(), err)
	}
	return append(data, '\n'), nil
}

func isVirtual(base string) bool {
	return base == PrimFile || base == IndexFile
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	path = filepath.Clean("/" + path)
	if path == "." {
		return "/"
	}
	return path
}

func (fs *SceneFS) dirInfo(name string) os.FileInfo {
	return &staticFileInfo{name: name, mode: os.ModeDir | 0o555, modTime: fs.mountTime}
}

func (fs *SceneFS) fileInfo(name string, size int) os.FileInfo {
	return &staticFileInfo{name: name, size: int64(size), mode: 0o444, modTime: fs.mountTime}
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

var (
	_ billy.Filesystem = (*SceneFS)(nil)
	_ billy.Capable    = (*SceneFS)(nil)
	_ billy.File       = (*virtualFile)(nil)
)
