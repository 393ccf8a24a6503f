package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List document references",
	Args:  cobra.NoArgs,
	Run:   runList,
}

func init() {
	listCmd.Flags().String("entity", "", "Limit to an entity (type/id)")
	listCmd.Flags().String("category", "", "Limit to a category")
	listCmd.Flags().String("status", "", "Limit to a sync status (e.g. CONFLICT)")
	listCmd.Flags().Int("limit", 0, "Maximum rows")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")
	category, _ := cmd.Flags().GetString("category")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.ListFilter{
		Category:   category,
		SyncStatus: store.SyncStatus(status),
		Limit:      limit,
	}
	if entity != "" {
		entityType, entityID, ok := splitEntity(entity)
		if !ok {
			fatalf("--entity must be type/id")
		}
		filter.EntityType = entityType
		filter.EntityID = entityID
	}

	cfg := loadConfig()
	s, _ := openVault(cfg)
	defer s.Close()

	docs, err := s.List(cmd.Context(), filter)
	if err != nil {
		fatalf("%v", err)
	}

	if len(docs) == 0 {
		fmt.Println("No documents.")
		return
	}
	for _, doc := range docs {
		fmt.Printf("[%d] %s  %s/%s  %s  %s\n",
			doc.ID, doc.FilePath, doc.EntityType, doc.EntityID, doc.StorageMode, doc.SyncStatus)
	}
}
