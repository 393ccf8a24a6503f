// Command docvault manages hybrid document storage: content lives in SQLite,
// mirrored as markdown files on disk, with bidirectional sync between them.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/config"
	"github.com/docvault/docvault/internal/mirror"
	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/syncer"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "docvault",
	Short: "Hybrid document storage and synchronization",
	Long: `docvault keeps authoritative document content in a SQLite database while
mirroring it as ordinary markdown files on disk, so documents stay diffable
and editable while remaining queryable and searchable.

Configuration is read from docvault.yaml (override with --config) and
DOCVAULT_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (default: ./docvault.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig reads the effective configuration for this invocation.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

// openVault opens the store with its mirror attached. The caller owns the
// returned store and must Close it.
func openVault(cfg *config.Config) (*store.Store, *mirror.Mirror) {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		fatalf("opening database: %v", err)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		s.Close()
		fatalf("initializing schema: %v", err)
	}
	m := mirror.New(cfg.DocsRoot)
	s.AttachMirror(m)
	return s, m
}

// newEngine builds a sync engine from config.
func newEngine(cfg *config.Config, s *store.Store, m *mirror.Mirror, logger *log.Logger) *syncer.Engine {
	return syncer.New(s, m, syncer.Config{
		LockWait: cfg.Sync.LockWait,
		Workers:  cfg.Sync.Workers,
	}, logger)
}

// syncOptions builds per-run sync options from config plus flag overrides.
// Empty override strings keep the configured value.
func syncOptions(cfg *config.Config, strategy, missingFile, missingDB string, backup bool) syncer.Options {
	opts := syncer.Options{
		Strategy:         syncer.Strategy(cfg.Sync.Strategy),
		MissingFile:      syncer.MissingFilePolicy(cfg.Sync.MissingFile),
		MissingDB:        syncer.MissingDBPolicy(cfg.Sync.MissingDB),
		BackupOnConflict: cfg.Sync.BackupOnConflict || backup,
	}
	if strategy != "" {
		opts.Strategy = syncer.Strategy(strategy)
	}
	if missingFile != "" {
		opts.MissingFile = syncer.MissingFilePolicy(missingFile)
	}
	if missingDB != "" {
		opts.MissingDB = syncer.MissingDBPolicy(missingDB)
	}
	return opts
}
