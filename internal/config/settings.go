// Package config loads the ambient settings for a termcore process: a YAML
// settings file for tunables that change between deployments, a TOML table
// of well-known concept ids consumed by the MRCM updater and the ingestion
// coordinator, and a viper-backed layer for CLI flag/env overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings holds the tunables that vary between a dev box and a production
// deployment: buffer flush thresholds, patch defaults, and the branch store
// connection string.
type Settings struct {
	BranchStoreDSN             string `yaml:"branchStoreDSN"`
	DocStoreDSN                string `yaml:"docStoreDSN"`
	FlushInterval              int    `yaml:"flushInterval"`
	ClearEffectiveTimesOnPatch bool   `yaml:"clearEffectiveTimesOnPatch"`
	MetricsEnabled             bool   `yaml:"metricsEnabled"`
}

// DefaultFlushInterval is the number of buffered components per kind that
// triggers an automatic persist-buffer flush, absent an override.
const DefaultFlushInterval = 5000

// Defaults returns a Settings populated with the module's baked-in defaults.
func Defaults() Settings {
	return Settings{
		FlushInterval: DefaultFlushInterval,
	}
}

// Load reads a YAML settings file from path, applying defaults for any zero
// field the file doesn't set. A missing file is not an error: it simply
// yields the defaults (matching how the teacher treats an absent
// config.yaml as "use built-ins", not a startup failure).
func Load(path string) (Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("reading settings file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	if s.FlushInterval <= 0 {
		s.FlushInterval = DefaultFlushInterval
	}
	return s, nil
}
