package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/store"
)

var createCmd = &cobra.Command{
	Use:   "create <file-path>",
	Short: "Create a document reference",
	Long: `Create a document reference at the given repository-relative path.

Canonical paths follow docs/{category}/{document_type}/{filename}. Root
markdown files, package README.md files, and testing trees are exempt and
default to file-only storage.

Content can be supplied inline with --content or read from a file with
--from-file; without either, the document starts without database content.

Examples:
  docvault create docs/planning/requirements/spec.md --entity project/core --title "Spec" --content "# Spec"
  docvault create docs/guides/howto/deploy.md --entity project/core --from-file ./deploy.md`,
	Args: cobra.ExactArgs(1),
	Run:  runCreate,
}

func init() {
	createCmd.Flags().String("entity", "", "Owning entity as type/id (required)")
	createCmd.Flags().String("title", "", "Document title")
	createCmd.Flags().String("category", "", "Category (must match the path segment)")
	createCmd.Flags().String("type", "", "Document type")
	createCmd.Flags().StringSlice("tags", nil, "Tags (comma separated)")
	createCmd.Flags().String("content", "", "Inline document content")
	createCmd.Flags().String("from-file", "", "Read document content from a file")
	createCmd.Flags().String("mode", "", "Storage mode: HYBRID, DATABASE_ONLY, FILE_ONLY")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")
	title, _ := cmd.Flags().GetString("title")
	category, _ := cmd.Flags().GetString("category")
	docType, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	inline, _ := cmd.Flags().GetString("content")
	fromFile, _ := cmd.Flags().GetString("from-file")
	mode, _ := cmd.Flags().GetString("mode")

	entityType, entityID, ok := splitEntity(entity)
	if !ok {
		fatalf("--entity must be type/id")
	}
	if inline != "" && fromFile != "" {
		fatalf("--content and --from-file are mutually exclusive")
	}

	var content *string
	if inline != "" {
		content = &inline
	}
	if fromFile != "" {
		data, err := os.ReadFile(fromFile)
		if err != nil {
			fatalf("reading %s: %v", fromFile, err)
		}
		str := string(data)
		content = &str
	}

	cfg := loadConfig()
	s, _ := openVault(cfg)
	defer s.Close()

	doc, err := s.Create(cmd.Context(), &store.DocumentReference{
		EntityType:   entityType,
		EntityID:     entityID,
		FilePath:     args[0],
		Title:        title,
		Category:     category,
		DocumentType: docType,
		Tags:         tags,
		StorageMode:  store.StorageMode(mode),
	}, content)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("Created document %d\n", doc.ID)
	fmt.Printf("   Path:   %s\n", doc.FilePath)
	fmt.Printf("   Mode:   %s\n", doc.StorageMode)
	fmt.Printf("   Status: %s\n", doc.SyncStatus)
	if doc.ContentHash != "" {
		fmt.Printf("   Hash:   %s\n", doc.ContentHash)
	}
}

func splitEntity(entity string) (entityType, entityID string, ok bool) {
	for i := 0; i < len(entity); i++ {
		if entity[i] == '/' {
			return entity[:i], entity[i+1:], entity[:i] != "" && entity[i+1:] != ""
		}
	}
	return "", "", false
}
