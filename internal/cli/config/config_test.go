package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
	"github.com/coral-mesh/remoteprof/internal/config"
	"github.com/coral-mesh/remoteprof/internal/constants"
)

func TestNewConfigCmd(t *testing.T) {
	cmd := NewConfigCmd(&helpers.GlobalFlags{})
	assert.Equal(t, "config", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"view", "init", "validate", "path"}, names)
}

func TestInitThenView(t *testing.T) {
	loader := config.NewLoaderAt(t.TempDir())

	var out bytes.Buffer
	require.NoError(t, runInit(loader, false, &out))
	assert.Contains(t, out.String(), loader.ConfigPath())
	assert.FileExists(t, loader.ConfigPath())

	err := runInit(loader, false, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	require.NoError(t, runInit(loader, true, &out))

	out.Reset()
	require.NoError(t, runView(loader, false, &out))
	assert.Contains(t, out.String(), "# Config file: "+loader.ConfigPath()+" (present)")
	assert.Contains(t, out.String(), "driver: "+constants.StoreDuckDB)

	out.Reset()
	require.NoError(t, runView(loader, true, &out))
	assert.NotContains(t, out.String(), "#")
}

func TestView_MissingFileShowsDefaults(t *testing.T) {
	loader := config.NewLoaderAt(t.TempDir())

	var out bytes.Buffer
	require.NoError(t, runView(loader, false, &out))
	assert.Contains(t, out.String(), "(not present)")
	assert.Contains(t, out.String(), "version: \""+config.SchemaVersion+"\"")
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		loader := config.NewLoaderAt(t.TempDir())
		var out bytes.Buffer
		require.NoError(t, runValidate(loader, string(helpers.FormatTable), &out))
		assert.Contains(t, out.String(), "valid")
	})

	t.Run("invalid file reports every error", func(t *testing.T) {
		loader := config.NewLoaderAt(t.TempDir())
		require.NoError(t, os.MkdirAll(loader.Dir(), 0o755))
		bad := "log:\n  level: loud\ndecode:\n  workers: 0\n"
		require.NoError(t, os.WriteFile(loader.ConfigPath(), []byte(bad), 0o600))

		var out bytes.Buffer
		err := runValidate(loader, string(helpers.FormatJSON), &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 errors")

		var got struct {
			Path   string `json:"path"`
			Valid  bool   `json:"valid"`
			Errors []struct {
				Field string `json:"field"`
			} `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		assert.False(t, got.Valid)
		assert.Equal(t, filepath.Clean(loader.ConfigPath()), got.Path)
		require.Len(t, got.Errors, 2)
		assert.Equal(t, "log.level", got.Errors[0].Field)
		assert.Equal(t, "decode.workers", got.Errors[1].Field)
	})
}

func TestPath(t *testing.T) {
	dir := t.TempDir()
	cmd := NewConfigCmd(&helpers.GlobalFlags{ConfigDir: dir})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"path"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, filepath.Join(dir, constants.DefaultDir, constants.ConfigFile)+"\n", out.String())
}
