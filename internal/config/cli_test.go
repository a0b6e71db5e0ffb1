package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindCLIEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flushInterval: 250\n"), 0o600))

	t.Setenv("TERMCORE_FLUSHINTERVAL", "10")

	v, err := BindCLI(path)
	require.NoError(t, err)

	s := SettingsFromViper(v)
	assert.Equal(t, 10, s.FlushInterval)
}

func TestBindCLIDefaultsWithoutFile(t *testing.T) {
	v, err := BindCLI("")
	require.NoError(t, err)

	s := SettingsFromViper(v)
	assert.Equal(t, DefaultFlushInterval, s.FlushInterval)
	assert.False(t, s.MetricsEnabled)
}
