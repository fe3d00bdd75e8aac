package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadPathsAppliesRoamingRootOverride(t *testing.T) {
	t.Setenv("ZENFS_ROAMING_ROOT", "/custom/roaming")
	p, err := LoadPaths()
	require.NoError(t, err)
	require.Equal(t, "/custom/roaming", p.RoamingGatesRoot)
	require.Equal(t, DefaultShadowDatabaseRoot, p.ShadowDatabaseRoot)
}

func TestLoadConductorConfigDefaultsSplitSymbols(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"music":{"unsorted_dir":"/music/in","music_dir":"/music/view"}}`), 0o644))

	cfg, err := LoadConductorConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/music/in", cfg.Music.UnsortedDir)
	require.Equal(t, DefaultSplitSymbols, cfg.Music.SplitSymbols)
}

func TestLoadConductorConfigHonorsExplicitSplitSymbols(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"music":{"unsorted_dir":"/in","music_dir":"/out","split_symbols":[";", ","]}}`), 0o644))

	cfg, err := LoadConductorConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{";", ","}, cfg.Music.SplitSymbols)
}

func TestLoadConductorConfigMissingPath(t *testing.T) {
	t.Setenv("ZENFS_CONDUCTOR_CONFIG", "")
	_, err := LoadConductorConfig("")
	require.Error(t, err)
}
