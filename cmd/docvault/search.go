package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over document titles and content",
	Long: `Search indexed documents. Bare words must all match (AND); the OR
keyword switches to any-match; double quotes form exact phrases.

Examples:
  docvault search migration
  docvault search "database migration"
  docvault search deploy OR rollback --category operations --limit 5`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSearch,
}

func init() {
	searchCmd.Flags().String("entity", "", "Limit to an entity (type/id)")
	searchCmd.Flags().String("category", "", "Limit to a category")
	searchCmd.Flags().String("type", "", "Limit to a document type")
	searchCmd.Flags().Int("limit", 0, "Results per page (default from config)")
	searchCmd.Flags().Int("offset", 0, "Pagination offset")
	searchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")
	category, _ := cmd.Flags().GetString("category")
	docType, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	asJSON, _ := cmd.Flags().GetBool("json")

	query := strings.Join(args, " ")

	filters := search.Filters{Category: category, DocumentType: docType}
	if entity != "" {
		entityType, entityID, ok := splitEntity(entity)
		if !ok {
			fatalf("--entity must be type/id")
		}
		filters.EntityType = entityType
		filters.EntityID = entityID
	}

	cfg := loadConfig()
	if limit <= 0 {
		limit = cfg.Search.DefaultLimit
	}

	s, _ := openVault(cfg)
	defer s.Close()

	ix := search.New(s, nil)
	results, err := ix.Search(cmd.Context(), query, filters, limit, offset)
	if err != nil {
		fatalf("%v", err)
	}

	if asJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(string(data))
		return
	}

	if results.TotalCount == 0 {
		fmt.Println("No matches.")
		return
	}
	fmt.Printf("%d matches (showing %d-%d)\n",
		results.TotalCount, offset+1, offset+len(results.Hits))
	if results.Truncated {
		fmt.Fprintln(os.Stderr, "Warning: search deadline expired; results may be incomplete")
	}
	for _, hit := range results.Hits {
		fmt.Printf("\n[%d] %s (%s, score %.1f)\n", hit.DocumentID, hit.Title, hit.FilePath, hit.Score)
		fmt.Printf("    %s\n", strings.ReplaceAll(hit.Snippet, "\n", " "))
	}
}
