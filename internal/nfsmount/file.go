package nfsmount

import (
	"bytes"
)

// virtualFile is a read-only billy.File over a rendered virtual file. The
// content is rendered on first access, so a handle opened before a resync
// reports the prim as it is when first read.
type virtualFile struct {
	name   string
	render func() ([]byte, error)
	r      *bytes.Reader
}

func (f *virtualFile) Name() string { return f.name }

func (f *virtualFile) load() (*bytes.Reader, error) {
	if f.r == nil {
		data, err := f.render()
		if err != nil {
			return nil, err
		}
		f.r = bytes.NewReader(data)
	}
	return f.r, nil
}

func (f *virtualFile) Read(p []byte) (int, error) {
	r, err := f.load()
	if err != nil {
		return 0, err
	}
	return r.Read(p)
}

func (f *virtualFile) ReadAt(p []byte, off int64) (int, error) {
	r, err := f.load()
	if err != nil {
		return 0, err
	}
	return r.ReadAt(p, off)
}

func (f *virtualFile) Seek(offset int64, whence int) (int64, error) {
	r, err := f.load()
	if err != nil {
		return 0, err
	}
	return r.Seek(offset, whence)
}

func (f *virtualFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *virtualFile) Truncate(int64) error      { return errReadOnly }
func (f *virtualFile) Lock() error               { return nil }
func (f *virtualFile) Unlock() error             { return nil }
func (f *virtualFile) Close() error              { return nil }
