package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingDotenvUsesDefaults(t *testing.T) {
	t.Setenv("HOST", "")
	t.Setenv("PORT", "")
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nonexistent.env"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.AllowContainerFallback)
}

func TestLoadFromDotenvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HOST=0.0.0.0\nPORT=9090\nALLOW_CONTAINER_FALLBACK=true\n"), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.AllowContainerFallback)
}

func TestEnvironmentOverridesDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9090\n"), 0644))
	t.Setenv("PORT", "1234")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)
}

func TestLoadWorkspaceDescriptorMissingFileIsEmpty(t *testing.T) {
	d, err := LoadWorkspaceDescriptor(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "", d.Distro)
}

func TestLoadWorkspaceDescriptorParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workspace.yaml")
	content := "distro: ubuntu-22.04\ninit_script: \"apt-get update\"\nskills:\n  - python\n  - node\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d, err := LoadWorkspaceDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu-22.04", d.Distro)
	assert.Equal(t, []string{"python", "node"}, d.Skills)
}
