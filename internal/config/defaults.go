package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns the built-in defaults. Paths are rooted under
// the user's home directory when one can be resolved.
func DefaultConfig() *Config {
	base := ".taskmirror"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".taskmirror")
	}
	return &Config{
		Remote: RemoteConfig{
			BaseURL: "https://api.todoist.com/api/v1",
		},
		Sync: SyncConfig{
			Interval:            5 * time.Minute,
			FilterRetentionDays: 30,
			MaxFilters:          20,
			Filters:             filepath.Join(base, "filters.yaml"),
		},
		State: StateConfig{
			Path: filepath.Join(base, "state.db"),
		},
		Text: TextConfig{
			DebounceMillis: 500,
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Addr:    "localhost:8823",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// Dir returns the default taskmirror directory path.
func Dir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".taskmirror")
	}
	return ".taskmirror"
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "taskmirror.yaml")
}
