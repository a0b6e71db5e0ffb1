package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultFlushInterval, s.FlushInterval)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "branchStoreDSN: mem://branches\nflushInterval: 100\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mem://branches", s.BranchStoreDSN)
	assert.Equal(t, 100, s.FlushInterval)
}

func TestLoadZeroFlushIntervalFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flushInterval: 0\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultFlushInterval, s.FlushInterval)
}
