// Package config loads docvault configuration from docvault.yaml with
// DOCVAULT_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Every field has a default so a
// missing config file is not an error.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path"`
	// DocsRoot is the directory the file mirror lives under.
	DocsRoot string `mapstructure:"docs_root"`

	Sync   SyncConfig   `mapstructure:"sync"`
	Search SearchConfig `mapstructure:"search"`
	Watch  WatchConfig  `mapstructure:"watch"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	Workers          int           `mapstructure:"workers"`
	LockWait         time.Duration `mapstructure:"lock_wait"`
	Strategy         string        `mapstructure:"strategy"`
	MissingFile      string        `mapstructure:"missing_file"`
	MissingDB        string        `mapstructure:"missing_db"`
	BackupOnConflict bool          `mapstructure:"backup_on_conflict"`
}

// SearchConfig tunes the search layer.
type SearchConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	DefaultLimit int           `mapstructure:"default_limit"`
}

// WatchConfig tunes the watcher daemon, including its rotating log file.
type WatchConfig struct {
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`

	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", ".docvault/docvault.db")
	v.SetDefault("docs_root", ".")

	v.SetDefault("sync.workers", 8)
	v.SetDefault("sync.lock_wait", 2*time.Second)
	v.SetDefault("sync.strategy", "MANUAL")
	v.SetDefault("sync.missing_file", "SKIP")
	v.SetDefault("sync.missing_db", "IGNORE")
	v.SetDefault("sync.backup_on_conflict", true)

	v.SetDefault("search.cache_ttl", time.Minute)
	v.SetDefault("search.default_limit", 20)

	v.SetDefault("watch.debounce_interval", 100*time.Millisecond)
	v.SetDefault("watch.sweep_interval", 5*time.Minute)
	v.SetDefault("watch.log_file", ".docvault/watcher.log")
	v.SetDefault("watch.log_max_size_mb", 10)
	v.SetDefault("watch.log_max_backups", 3)
	v.SetDefault("watch.log_max_age_days", 30)
}

// Load reads configuration from path when non-empty, otherwise from
// docvault.yaml in the working directory. Environment variables prefixed
// DOCVAULT_ override file values (nested keys use underscores, e.g.
// DOCVAULT_SYNC_WORKERS). A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docvault")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DOCVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist; the implicit one may not.
		if path != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
