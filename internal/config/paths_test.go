package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigDir_NonEmpty(t *testing.T) {
	dir := DefaultConfigDir()
	assert.NotEmpty(t, dir)
	assert.Contains(t, dir, appName)
}

func TestDefaultDataDir_NonEmpty(t *testing.T) {
	dir := DefaultDataDir()
	assert.NotEmpty(t, dir)
	assert.Contains(t, dir, appName)
}

func TestDefaultConfigPath_EndsWithConfigToml(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultConfigPath(), "config.toml"))
}

func TestDefaultConfigDir_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("Linux-only test")
	}

	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, filepath.Join("/custom/config", appName), DefaultConfigDir())
}

func TestDefaultDataDir_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("Linux-only test")
	}

	t.Setenv("XDG_DATA_HOME", "/custom/data")
	assert.Equal(t, filepath.Join("/custom/data", appName), DefaultDataDir())
}

func TestDataPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "library.db"), DatabasePath("/data"))
	assert.Equal(t, filepath.Join("/data", "credentials.json"), CredentialsPath("/data"))
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/testuser")

	assert.Equal(t, filepath.Join("/home/testuser", "games.db"), expandHome("~/games.db"))
	assert.Equal(t, "/abs/games.db", expandHome("/abs/games.db"))
	assert.Equal(t, "~", expandHome("~"))
}
