package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync [document-id]",
	Short: "Synchronize documents between database and files",
	Long: `Smart-sync documents: each document's database and file copies are
compared by hash and reconciled. With a document id, syncs one document;
otherwise syncs everything matching the filters.

Conflicts (both sides changed) are handled per --strategy:
  DB_WINS      database content overwrites the file
  FILE_WINS    file content overwrites the database
  NEWEST_WINS  the side modified later wins
  MANUAL       the conflict is recorded and nothing changes (default)

Examples:
  docvault sync                       # whole corpus
  docvault sync 42                    # one document
  docvault sync --category guides
  docvault sync --entity project/core --strategy NEWEST_WINS --backup`,
	Args: cobra.MaximumNArgs(1),
	Run:  runSync,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <document-id> <db|file>",
	Short: "Resolve a pending manual conflict",
	Long: `Pick the winning side of a document left in CONFLICT by a MANUAL sync.
The losing side is overwritten and the conflict audit row is stamped.`,
	Args: cobra.ExactArgs(2),
	Run:  runResolve,
}

func init() {
	syncCmd.Flags().String("entity", "", "Limit to an entity (type/id)")
	syncCmd.Flags().String("category", "", "Limit to a category")
	syncCmd.Flags().String("strategy", "", "Conflict strategy (overrides config)")
	syncCmd.Flags().String("missing-file", "", "Missing file policy: SKIP, RECREATE, DELETE_DB")
	syncCmd.Flags().String("missing-db", "", "Missing DB content policy: IGNORE, CREATE, DELETE_FILE")
	syncCmd.Flags().Bool("backup", false, "Back up the losing side of auto-resolved conflicts")
	syncCmd.Flags().Bool("check", false, "Report what a sync of one document would do, changing nothing")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resolveCmd)
}

func runSync(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")
	category, _ := cmd.Flags().GetString("category")
	strategy, _ := cmd.Flags().GetString("strategy")
	missingFile, _ := cmd.Flags().GetString("missing-file")
	missingDB, _ := cmd.Flags().GetString("missing-db")
	backup, _ := cmd.Flags().GetBool("backup")
	check, _ := cmd.Flags().GetBool("check")

	cfg := loadConfig()
	s, m := openVault(cfg)
	defer s.Close()

	logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
	engine := newEngine(cfg, s, m, logger)
	opts := syncOptions(cfg, strategy, missingFile, missingDB, backup)

	if check && len(args) != 1 {
		fatalf("--check requires a document id")
	}

	// Single-document sync.
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatalf("invalid document id %q", args[0])
		}
		if check {
			status, err := engine.Check(cmd.Context(), id)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("Document %d: %s\n", id, status)
			return
		}
		res, err := engine.SmartSync(cmd.Context(), id, opts)
		if err != nil {
			fatalf("%v", err)
		}
		printResult(res)
		return
	}

	var report *syncer.Report
	var err error
	switch {
	case entity != "":
		entityType, entityID, ok := splitEntity(entity)
		if !ok {
			fatalf("--entity must be type/id")
		}
		report, err = engine.SyncByEntity(cmd.Context(), entityType, entityID, opts)
	case category != "":
		report, err = engine.SyncByCategory(cmd.Context(), category, opts)
	default:
		report, err = engine.SyncAll(cmd.Context(), opts)
	}
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("Sync complete: %d synced, %d skipped, %d conflicts, %d errors\n",
		report.Synced, report.Skipped, report.Conflicts, report.Errors)
	if report.Unprocessed > 0 {
		fmt.Printf("   %d documents left unprocessed (cancelled)\n", report.Unprocessed)
	}
	for _, res := range report.Results {
		if res.Outcome == syncer.OutcomeConflict || res.Outcome == syncer.OutcomeError {
			printResult(&res)
		}
	}
	if report.Conflicts > 0 {
		fmt.Println("Resolve conflicts with: docvault resolve <document-id> <db|file>")
	}
}

func printResult(res *syncer.Result) {
	fmt.Printf("   [%d] %s: %s", res.DocumentID, res.FilePath, res.Outcome)
	if res.Detail != "" {
		fmt.Printf(" (%s)", res.Detail)
	}
	if res.BackupPath != "" {
		fmt.Printf(" backup=%s", res.BackupPath)
	}
	fmt.Println()
}

func runResolve(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fatalf("invalid document id %q", args[0])
	}
	resolution := store.Resolution(args[1])
	if resolution != store.ResolutionDB && resolution != store.ResolutionFile {
		fatalf("resolution must be 'db' or 'file'")
	}

	cfg := loadConfig()
	s, m := openVault(cfg)
	defer s.Close()

	engine := newEngine(cfg, s, m, log.New(os.Stderr, "[sync] ", log.LstdFlags))
	if err := engine.Resolve(cmd.Context(), id, resolution); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Conflict on document %d resolved: %s wins\n", id, resolution)
}
