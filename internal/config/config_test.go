package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != ".docvault/docvault.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Sync.Workers != 8 || cfg.Sync.LockWait != 2*time.Second {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if cfg.Sync.Strategy != "MANUAL" {
		t.Errorf("strategy = %q", cfg.Sync.Strategy)
	}
	if cfg.Watch.DebounceInterval != 100*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Watch.DebounceInterval)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docvault.yaml")
	yaml := `
db_path: /var/lib/docvault/docs.db
sync:
  workers: 2
  strategy: NEWEST_WINS
watch:
  debounce_interval: 250ms
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "/var/lib/docvault/docs.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Sync.Workers != 2 || cfg.Sync.Strategy != "NEWEST_WINS" {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Watch.DebounceInterval != 250*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Watch.DebounceInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.Sync.MissingFile != "SKIP" {
		t.Errorf("missing_file = %q", cfg.Sync.MissingFile)
	}
}

func TestMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing explicit config accepted")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DOCVAULT_SYNC_WORKERS", "3")
	t.Setenv("DOCVAULT_DB_PATH", "/tmp/env.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.Workers != 3 {
		t.Errorf("env override ignored: workers = %d", cfg.Sync.Workers)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Errorf("env override ignored: db_path = %q", cfg.DBPath)
	}
}
