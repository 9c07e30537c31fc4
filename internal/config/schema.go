// Package config loads taskmirror configuration from YAML files and
// TM_-prefixed environment variables, merged over built-in defaults.
package config

import "time"

// Config is the full taskmirror configuration.
type Config struct {
	Remote    RemoteConfig    `yaml:"remote" mapstructure:"remote"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	State     StateConfig     `yaml:"state" mapstructure:"state"`
	Text      TextConfig      `yaml:"text" mapstructure:"text"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// RemoteConfig locates and authenticates against the sync service.
type RemoteConfig struct {
	// BaseURL is the root of the sync API, without the /sync suffix.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// Token is the bearer token. Usually supplied via TM_REMOTE_TOKEN
	// rather than the config file.
	Token string `yaml:"token" mapstructure:"token"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// Interval between periodic sync cycles in daemon mode.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// FilterRetentionDays drops cached filter results not used within
	// this many days.
	FilterRetentionDays int `yaml:"filter_retention_days" mapstructure:"filter_retention_days"`
	// MaxFilters bounds the filter result cache.
	MaxFilters int `yaml:"max_filters" mapstructure:"max_filters"`
	// Filters is the path to the YAML manifest of named filter
	// expressions to keep synced.
	Filters string `yaml:"filters" mapstructure:"filters"`
}

// StateConfig locates the persisted engine state.
type StateConfig struct {
	// Path to the SQLite state database.
	Path string `yaml:"path" mapstructure:"path"`
}

// TextConfig configures the watched task file.
type TextConfig struct {
	// File is the markdown task list to watch and write back to.
	// Empty disables the text collaborator.
	File string `yaml:"file" mapstructure:"file"`
	// DebounceMillis delays re-parsing after a file change so rapid
	// editor saves coalesce into one scan.
	DebounceMillis int `yaml:"debounce_millis" mapstructure:"debounce_millis"`
}

// DashboardConfig configures the daemon's status dashboard.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures daemon log output rotation.
type LogConfig struct {
	// File is the daemon log path. Empty logs to stderr.
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// FilterRetention returns the retention window as a duration.
func (c SyncConfig) FilterRetention() time.Duration {
	return time.Duration(c.FilterRetentionDays) * 24 * time.Hour
}

// Debounce returns the text watch debounce as a duration.
func (c TextConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}
