package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// BindCLI builds a viper instance layering process environment variables
// (prefix TERMCORE_) over an optional settings file, following the
// teacher's pattern of a short-lived per-command viper.New() rather than a
// single global instance.
func BindCLI(settingsPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("TERMCORE")
	v.AutomaticEnv()

	v.SetDefault("flushInterval", DefaultFlushInterval)
	v.SetDefault("clearEffectiveTimesOnPatch", false)
	v.SetDefault("metricsEnabled", false)

	if settingsPath != "" {
		v.SetConfigFile(settingsPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading settings file %s: %w", settingsPath, err)
		}
	}
	return v, nil
}

// SettingsFromViper extracts a Settings struct from a bound viper instance,
// letting TERMCORE_* environment variables override whatever BindCLI read
// from the settings file. No CLI flags are bound to these settings.
func SettingsFromViper(v *viper.Viper) Settings {
	return Settings{
		BranchStoreDSN:             v.GetString("branchStoreDSN"),
		DocStoreDSN:                v.GetString("docStoreDSN"),
		FlushInterval:              v.GetInt("flushInterval"),
		ClearEffectiveTimesOnPatch: v.GetBool("clearEffectiveTimesOnPatch"),
		MetricsEnabled:             v.GetBool("metricsEnabled"),
	}
}
