package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file path, or from the
// default location when path is empty, layered over DefaultConfig.
// Environment variables prefixed TM_ override file values, with
// underscores standing in for nesting (TM_REMOTE_TOKEN, TM_STATE_PATH).
// A missing config file is not an error; defaults and environment
// apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); err != nil {
		if explicit {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// bindDefaults registers every key with viper so AutomaticEnv can see
// it; viper only consults the environment for keys it knows about.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("remote.base_url", cfg.Remote.BaseURL)
	v.SetDefault("remote.token", cfg.Remote.Token)
	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.filter_retention_days", cfg.Sync.FilterRetentionDays)
	v.SetDefault("sync.max_filters", cfg.Sync.MaxFilters)
	v.SetDefault("sync.filters", cfg.Sync.Filters)
	v.SetDefault("state.path", cfg.State.Path)
	v.SetDefault("text.file", cfg.Text.File)
	v.SetDefault("text.debounce_millis", cfg.Text.DebounceMillis)
	v.SetDefault("dashboard.enabled", cfg.Dashboard.Enabled)
	v.SetDefault("dashboard.addr", cfg.Dashboard.Addr)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
}
