package nfsmount

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/hiercache/internal/hierarchy"
	"github.com/agentic-research/hiercache/internal/scene"
)

func newTestStage(t *testing.T) *scene.Stage {
	t.Helper()
	st := scene.NewStage()
	def := scene.PrimSpec{Flags: scene.DefaultFlags}
	_, err := st.DefinePrim(scene.RootPath, "World", def)
	require.NoError(t, err)
	_, err = st.DefinePrim("/World", "Cube", scene.PrimSpec{DisplayName: "My Cube", Flags: def.Flags | scene.FlagModel})
	require.NoError(t, err)
	_, err = st.DefinePrim("/World", "Sphere", def)
	require.NoError(t, err)
	_, err = st.DefinePrim("/World", "Hidden", scene.PrimSpec{Flags: scene.FlagDefined | scene.FlagLoaded})
	require.NoError(t, err)
	return st
}

func newTestFS(t *testing.T, st *scene.Stage, root scene.Path) (*SceneFS, *hierarchy.Guard) {
	t.Helper()
	g, err := hierarchy.NewGuard(func() (*hierarchy.Cache, error) {
		return hierarchy.New(st, root, scene.DefaultPredicate())
	})
	require.NoError(t, err)
	return NewSceneFS(g), g
}

func readAll(t *testing.T, fs *SceneFS, name string) []byte {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func names(infos []os.FileInfo) []string {
	out := make([]string, len(infos))
	for i, e := range infos {
		out[i] = e.Name()
	}
	return out
}

func TestStatRoot(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	info, err := fs.Stat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "/", info.Name())
}

func TestStatPrimDir(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	info, err := fs.Stat("/World/Cube")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "Cube", info.Name())
}

func TestStatNotFound(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	_, err := fs.Stat("/World/Nope")
	assert.True(t, os.IsNotExist(err))

	// filtered out by the predicate
	_, err = fs.Stat("/World/Hidden")
	assert.True(t, os.IsNotExist(err))
}

func TestReadDirRoot(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{IndexFile, PrimFile, "World"}, names(entries))
}

func TestReadDirChildrenInRowOrder(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	entries, err := fs.ReadDir("/World")
	require.NoError(t, err)
	assert.Equal(t, []string{PrimFile, "Cube", "Sphere"}, names(entries))
	assert.False(t, entries[0].IsDir())
	assert.True(t, entries[1].IsDir())
}

func TestReadDirIsLazy(t *testing.T) {
	fs, g := newTestFS(t, newTestStage(t), scene.RootPath)

	_, err := fs.ReadDir("/")
	require.NoError(t, err)
	require.NoError(t, g.With(func(c *hierarchy.Cache) error {
		assert.True(t, c.ContainsPath("/World"))
		assert.False(t, c.ContainsPath("/World/Cube"))
		return nil
	}))

	_, err = fs.ReadDir("/World")
	require.NoError(t, err)
	require.NoError(t, g.With(func(c *hierarchy.Cache) error {
		assert.True(t, c.ContainsPath("/World/Cube"))
		assert.True(t, c.ContainsPath("/World/Sphere"))
		assert.False(t, c.ContainsPath("/World/Hidden"))
		return nil
	}))
}

func TestPrimJSON(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	var info PrimInfo
	require.NoError(t, json.Unmarshal(readAll(t, fs, "/World/Cube/"+PrimFile), &info))
	assert.Equal(t, scene.Path("/World/Cube"), info.Path)
	assert.Equal(t, "Cube", info.Name)
	assert.Equal(t, "My Cube", info.DisplayName)
	assert.Equal(t, "active|defined|loaded|model", info.Flags)
	assert.Equal(t, 0, info.Row)
	assert.Equal(t, 0, info.Children)

	stat, err := fs.Stat("/World/Cube/" + PrimFile)
	require.NoError(t, err)
	assert.Equal(t, int64(len(readAll(t, fs, "/World/Cube/"+PrimFile))), stat.Size())
}

func TestIndexJSON(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	_, err := fs.ReadDir("/World")
	require.NoError(t, err)

	var stats hierarchy.Stats
	require.NoError(t, json.Unmarshal(readAll(t, fs, "/"+IndexFile), &stats))
	assert.Equal(t, scene.RootPath, stats.Root)
	// root, World and the two listed children
	assert.Equal(t, 4, stats.Registered)
	assert.False(t, stats.Desynced)

	_, err = fs.Open("/World/" + IndexFile)
	assert.True(t, os.IsNotExist(err))
}

func TestSubtreeRoot(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), "/World")

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{IndexFile, PrimFile, "Cube", "Sphere"}, names(entries))

	var info PrimInfo
	require.NoError(t, json.Unmarshal(readAll(t, fs, "/Sphere/"+PrimFile), &info))
	assert.Equal(t, scene.Path("/World/Sphere"), info.Path)
	assert.Equal(t, 1, info.Row)
}

func TestReflectsResync(t *testing.T) {
	st := newTestStage(t)
	fs, g := newTestFS(t, st, scene.RootPath)
	l := hierarchy.Listen(st, g)
	defer l.Close()

	_, err := fs.ReadDir("/World")
	require.NoError(t, err)

	require.NoError(t, st.RemovePrim("/World/Cube"))
	_, err = st.DefinePrim("/World", "Cone", scene.PrimSpec{Flags: scene.DefaultFlags})
	require.NoError(t, err)

	entries, err := fs.ReadDir("/World")
	require.NoError(t, err)
	assert.Equal(t, []string{PrimFile, "Sphere", "Cone"}, names(entries))
	_, err = fs.Stat("/World/Cube")
	assert.True(t, os.IsNotExist(err))
}

func TestReadAtAndSeek(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	f, err := fs.Open("/World/" + PrimFile)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	buf := make([]byte, 7)
	n, _ := f.ReadAt(buf, 4)
	require.Equal(t, 7, n)
	assert.Equal(t, `"path":`, string(buf[:n]))

	pos, err := f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
	n, _ = f.Read(buf)
	assert.Equal(t, `"path":`, string(buf[:n]))
}

func TestPrimJSONRenderedOnFirstRead(t *testing.T) {
	st := newTestStage(t)
	fs, g := newTestFS(t, st, scene.RootPath)
	l := hierarchy.Listen(st, g)
	defer l.Close()

	f, err := fs.Open("/World/Sphere/" + PrimFile)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	gone, err := fs.Open("/World/Cube/" + PrimFile)
	require.NoError(t, err)
	defer func() { _ = gone.Close() }()

	require.NoError(t, st.SetFlags("/World/Sphere", scene.DefaultFlags|scene.FlagInstance))
	require.NoError(t, st.RemovePrim("/World/Cube"))

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	var info PrimInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "active|defined|loaded|instance", info.Flags)
	assert.Equal(t, 0, info.Row)

	_, err = io.ReadAll(gone)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenDirectoryFails(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	_, err := fs.Open("/World")
	assert.Error(t, err)
	_, err = fs.ReadDir("/World/" + PrimFile)
	assert.Error(t, err)
}

func TestReadOnly(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	_, err := fs.Create("newfile.txt")
	assert.Equal(t, errReadOnly, err)

	_, err = fs.OpenFile("/World/"+PrimFile, os.O_RDWR, 0)
	assert.Equal(t, errReadOnly, err)

	assert.Equal(t, errReadOnly, fs.MkdirAll("/newdir", 0o755))
	assert.Equal(t, errReadOnly, fs.Remove("/World"))
	assert.Equal(t, errReadOnly, fs.Rename("/World", "/Renamed"))
}

func TestCapabilities(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	caps := fs.Capabilities()
	assert.NotZero(t, caps&2) // ReadCapability (1 << 1)
	assert.NotZero(t, caps&8) // SeekCapability (1 << 3)
	assert.Zero(t, caps&1)    // WriteCapability (1 << 0) should NOT be set
}

func TestRootAndJoin(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)
	assert.Equal(t, "/", fs.Root())
	assert.Equal(t, "a/b/c", fs.Join("a", "b", "c"))
}

func TestNFSServerStarts(t *testing.T) {
	fs, _ := newTestFS(t, newTestStage(t), scene.RootPath)

	srv, err := NewServer(fs, ServerOptions{})
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	assert.True(t, srv.Port() > 0, "server should be on a valid port")

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	_ = conn.Close()
}
