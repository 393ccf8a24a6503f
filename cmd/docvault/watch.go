package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/docvault/docvault/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the sync daemon",
	Long: `Watch the docs tree for markdown changes and sync them into the
database as they happen, with a periodic full sweep as a safety net.

File-side changes are adopted automatically; conflicting documents are
recorded and left for manual resolution. Daemon activity is logged to a
rotating log file (see the watch section of the config).

Runs until interrupted.`,
	Run: runWatch,
}

func init() {
	watchCmd.Flags().Bool("foreground-log", false, "Log to stderr as well as the log file")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	foregroundLog, _ := cmd.Flags().GetBool("foreground-log")

	cfg := loadConfig()
	s, m := openVault(cfg)
	defer s.Close()

	var sink io.Writer = &lumberjack.Logger{
		Filename:   cfg.Watch.LogFile,
		MaxSize:    cfg.Watch.LogMaxSizeMB,
		MaxBackups: cfg.Watch.LogMaxBackups,
		MaxAge:     cfg.Watch.LogMaxAgeDays,
		Compress:   true,
	}
	if foregroundLog {
		sink = io.MultiWriter(sink, os.Stderr)
	}
	logger := log.New(sink, "[watcher] ", log.LstdFlags)

	engine := newEngine(cfg, s, m, logger)

	wcfg := watcher.DefaultConfig()
	wcfg.DebounceInterval = cfg.Watch.DebounceInterval
	wcfg.SweepInterval = cfg.Watch.SweepInterval
	wcfg.Logger = logger

	d, err := watcher.New(s, engine, cfg.DocsRoot, wcfg)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s (log: %s)\n", cfg.DocsRoot, cfg.Watch.LogFile)
	if err := d.Start(ctx); err != nil {
		fatalf("%v", err)
	}
}
