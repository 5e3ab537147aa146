package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	d, err := New().FromWriter(&buf).Format("json").Level("debug").Make()
	require.NoError(t, err)
	d.Logger.Debug().Str("path", "/World").Msg("register")
	assert.Contains(t, buf.String(), `"path":"/World"`)
	assert.Contains(t, buf.String(), `"level":"debug"`)
	require.NoError(t, d.Close())
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	d, err := New().FromWriter(&buf).Format("json").Level("warn").Make()
	require.NoError(t, err)
	d.Logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	d, err := New().FromWriter(&buf).Make()
	require.NoError(t, err)
	d.Logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), "{")
}

func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiercache.log")
	d, err := New().FromPath(path).Make()
	require.NoError(t, err)
	d.Logger.Info().Msg("to file")
	require.NoError(t, d.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestBadSettings(t *testing.T) {
	_, err := New().Level("loud").Make()
	assert.Error(t, err)
	_, err = New().Format("xml").Make()
	assert.Error(t, err)
}
