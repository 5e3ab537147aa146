package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/hiercache/internal/scene"
)

type flagNode scene.Flags

func (flagNode) Path() scene.Path     { return "/x" }
func (flagNode) DisplayName() string  { return "x" }
func (f flagNode) Flags() scene.Flags { return scene.Flags(f) }

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, scene.DefaultSelector, c.Selector)
	assert.Equal(t, scene.RootPath, c.RootPath())
	assert.Equal(t, int64(math.MaxUint32), c.MaxID)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "console", c.Log.Format)
	assert.Equal(t, 1024, c.NFS.HandleCache)
	require.NoError(t, c.Validate())
}

func TestParseHCL(t *testing.T) {
	src := `
scene  = "stage.json"
root   = "World/"
max_id = 500

predicate {
  show_inactive = true
  show_abstract = true
}

filter {
  case_insensitive = true
}

log {
  level  = "debug"
  format = "json"
}

nfs {
  mount = "/tmp/scene"
}
`
	c, err := Parse("hiercache.hcl", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, "stage.json", c.Scene)
	assert.Equal(t, scene.Path("/World"), c.RootPath())
	assert.Equal(t, int64(500), c.MaxID)
	assert.True(t, c.Filter.CaseInsensitive)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "/tmp/scene", c.NFS.Mount)
	assert.Equal(t, "127.0.0.1:0", c.NFS.Listen)

	pred := c.ChildPredicate()
	assert.True(t, pred(flagNode(scene.FlagDefined|scene.FlagLoaded)), "inactive shown")
	assert.True(t, pred(flagNode(scene.DefaultFlags|scene.FlagAbstract)), "abstract shown")
	assert.False(t, pred(flagNode(scene.FlagActive|scene.FlagLoaded)), "undefined still hidden")
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiercache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scene": "s.json", "predicate": {"all": true}}`), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s.json", c.Scene)
	assert.True(t, c.ChildPredicate()(flagNode(0)))
}

func TestDefaultPredicate(t *testing.T) {
	pred := Default().ChildPredicate()
	assert.True(t, pred(flagNode(scene.DefaultFlags)))
	assert.False(t, pred(flagNode(scene.FlagDefined|scene.FlagLoaded)))
	assert.False(t, pred(flagNode(scene.DefaultFlags|scene.FlagAbstract)))
}

func TestValidate(t *testing.T) {
	_, err := Parse("bad.hcl", []byte("max_id = 1\nlog {\n format = \"xml\"\n}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_id")
	assert.Contains(t, err.Error(), "xml")

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}
