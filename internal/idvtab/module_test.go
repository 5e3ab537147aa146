package idvtab

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/hiercache/internal/hierarchy"
	"github.com/agentic-research/hiercache/internal/scene"
)

func setup(t *testing.T) (*sql.DB, *scene.Stage, *hierarchy.Cache) {
	t.Helper()
	st := scene.NewStage()
	def := scene.PrimSpec{Flags: scene.DefaultFlags}
	for _, p := range []struct {
		parent scene.Path
		name   string
	}{{"/", "World"}, {"/World", "A"}, {"/World", "B"}, {"/World/B", "C"}} {
		_, err := st.DefinePrim(p.parent, p.name, def)
		require.NoError(t, err)
	}
	c, err := hierarchy.New(st, scene.RootPath, scene.DefaultPredicate())
	require.NoError(t, err)
	_, err = c.Materialize("/World/B/C")
	require.NoError(t, err)

	mod, err := Register()
	require.NoError(t, err)
	mod.RegisterSource(t.Name(), func() ([]Row, error) { return Snapshot(c.Table()) })
	t.Cleanup(func() { mod.UnregisterSource(t.Name()) })

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE VIRTUAL TABLE ids USING ` + ModuleName + `(` + t.Name() + `)`)
	require.NoError(t, err)
	return db, st, c
}

func queryPaths(t *testing.T, db *sql.DB, query string, args ...any) []string {
	t.Helper()
	rows, err := db.Query(query, args...)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var p string
		require.NoError(t, rows.Scan(&p))
		out = append(out, p)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestSnapshot(t *testing.T) {
	_, _, c := setup(t)
	rows, err := Snapshot(c.Table())
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{ID: 1, Path: "/", Parent: 0, Row: 0, ChildCount: 1},
		{ID: 2, Path: "/World", Parent: 1, Row: 0, ChildCount: 2},
		{ID: 3, Path: "/World/B", Parent: 2, Row: 1, ChildCount: 1},
		{ID: 4, Path: "/World/B/C", Parent: 3, Row: 0, ChildCount: 0},
	}, rows)
}

func TestQueryScans(t *testing.T) {
	db, _, _ := setup(t)

	assert.Equal(t, []string{"/", "/World", "/World/B", "/World/B/C"},
		queryPaths(t, db, `SELECT path FROM ids ORDER BY id`))
	assert.Equal(t, []string{"/World/B"}, queryPaths(t, db, `SELECT path FROM ids WHERE id = 3`))
	assert.Equal(t, []string{"/World/B"}, queryPaths(t, db, `SELECT path FROM ids WHERE parent = ?`, 2))
	assert.Equal(t, []string{"/World/B/C"}, queryPaths(t, db, `SELECT path FROM ids WHERE path = '/World/B/C'`))
	assert.Equal(t, []string{"/World/B"}, queryPaths(t, db, `SELECT path FROM ids WHERE child_count = 1 AND row = 1`))
}

func TestQueryFollowsResync(t *testing.T) {
	db, st, c := setup(t)

	require.NoError(t, st.RemovePrim("/World/B"))
	require.NoError(t, c.ResyncSubtrees([]scene.Path{"/World/B"}))

	assert.Equal(t, []string{"/", "/World"}, queryPaths(t, db, `SELECT path FROM ids ORDER BY id`))
}

func TestUnknownSource(t *testing.T) {
	_, err := Register()
	require.NoError(t, err)
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(`CREATE VIRTUAL TABLE ids USING ` + ModuleName + `(nope)`)
	assert.Error(t, err)
}
