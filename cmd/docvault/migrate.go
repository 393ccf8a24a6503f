package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Onboard legacy file-only documents into hybrid storage",
	Long: `Migrate FILE_ONLY documents: read each backing file, store its content,
hash, and size in the database, and switch the document to HYBRID mode.

The whole run executes inside one transaction. --dry-run plans without
writing anything. Missing backing files are handled per --missing-file:
  SKIP      record and continue (default)
  ERROR     abort and roll back the entire run
  CONTINUE  same as SKIP

Examples:
  docvault migrate --dry-run
  docvault migrate --category guides
  docvault migrate --missing-file ERROR --json`,
	Run: runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "Plan only; write nothing")
	migrateCmd.Flags().String("entity", "", "Limit to an entity (type/id)")
	migrateCmd.Flags().String("category", "", "Limit to a category")
	migrateCmd.Flags().String("missing-file", "SKIP", "Missing file policy: SKIP, ERROR, CONTINUE")
	migrateCmd.Flags().Bool("no-verify", false, "Skip post-write content verification")
	migrateCmd.Flags().Bool("json", false, "Output the report as JSON")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	entity, _ := cmd.Flags().GetString("entity")
	category, _ := cmd.Flags().GetString("category")
	missingFile, _ := cmd.Flags().GetString("missing-file")
	noVerify, _ := cmd.Flags().GetBool("no-verify")
	asJSON, _ := cmd.Flags().GetBool("json")

	scope := migrate.Scope{Category: category}
	if entity != "" {
		entityType, entityID, ok := splitEntity(entity)
		if !ok {
			fatalf("--entity must be type/id")
		}
		scope.EntityType = entityType
		scope.EntityID = entityID
	}

	cfg := loadConfig()
	s, m := openVault(cfg)
	defer s.Close()

	runner := migrate.New(s, m, nil)

	plan, err := runner.Plan(cmd.Context(), scope)
	if err != nil {
		fatalf("%v", err)
	}

	if dryRun {
		fmt.Printf("Would migrate %d documents (%d bytes)\n", len(plan.Items)-plan.MissingFiles, plan.TotalBytes)
		if plan.MissingFiles > 0 {
			fmt.Printf("   %d backing files missing\n", plan.MissingFiles)
		}
		for _, item := range plan.Items {
			if item.FileExists {
				fmt.Printf("   [%d] %s (%d bytes, %s)\n", item.DocumentID, item.FilePath, item.FileSize, item.ProspectiveHash[:8])
			} else {
				fmt.Printf("   [%d] %s (file missing)\n", item.DocumentID, item.FilePath)
			}
		}
		return
	}

	opts := migrate.Options{
		MissingFile: migrate.MissingFilePolicy(missingFile),
		Verify:      !noVerify,
		Workers:     cfg.Sync.Workers,
	}
	report, err := runner.Execute(cmd.Context(), plan, opts)
	if err != nil {
		fatalf("%v", err)
	}

	if asJSON {
		data, err := report.JSON()
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Migration run %s complete in %v\n", report.RunID, report.Duration)
	fmt.Printf("   Migrated: %d (%d bytes)\n", report.Migrated, report.TotalBytes)
	fmt.Printf("   Skipped:  %d\n", report.Skipped)
	fmt.Printf("   Failed:   %d\n", report.Failed)
	for _, out := range report.Outcomes {
		if out.Status != "migrated" {
			fmt.Fprintf(os.Stderr, "   [%d] %s: %s (%s)\n", out.DocumentID, out.FilePath, out.Status, out.Reason)
		}
	}
}
