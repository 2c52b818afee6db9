package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, requirements and activity",
	Long: `List uploaded documents, extracted requirements or recent activity in a
simple text format. This command works in any terminal environment and
provides an alternative to the TUI when terminal capabilities are limited.

Examples:
  # List all uploaded documents
  medgen-console list

  # List extracted requirements for a document
  medgen-console list --requirements file_123

  # Show the last 10 activity journal entries
  medgen-console list --activity 10`,
	RunE: runList,
}

var (
	listReqFileID string
	listActivityN int
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listReqFileID, "requirements", "", "Document ID to list extracted requirements for")
	listCmd.Flags().IntVar(&listActivityN, "activity", 0, "Show the last N activity journal entries")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	if listReqFileID != "" {
		return listRequirements(ctx, config, listReqFileID)
	}
	if listActivityN > 0 {
		return listActivity(ctx, config, listActivityN)
	}
	return listDocuments(ctx, config)
}

func listDocuments(ctx context.Context, config Config) error {
	client, err := api.NewClient(config.API.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	files, err := client.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if len(files) == 0 {
		fmt.Println("No documents found.")
		return nil
	}

	fmt.Printf("Found %d documents:\n\n", len(files))

	for i, file := range files {
		fmt.Printf("%d. %s\n", i+1, file.Filename)
		fmt.Printf("   ID: %s\n", file.FileID)
		fmt.Printf("   Status: %s\n", file.Status)
		fmt.Println()
	}

	return nil
}

func listRequirements(ctx context.Context, config Config, fileID string) error {
	client, err := api.NewClient(config.API.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	reqs, err := client.ListRequirements(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to list requirements for %s: %w", fileID, err)
	}

	if len(reqs) == 0 {
		fmt.Printf("No requirements extracted for %s yet.\n", fileID)
		return nil
	}

	fmt.Printf("Found %d requirements for %s:\n\n", len(reqs), fileID)

	for i, req := range reqs {
		fmt.Printf("%d. [%s] %s\n", i+1, req.ReqTitleID, req.Title)
		if req.Priority != "" {
			fmt.Printf("   Priority: %s\n", req.Priority)
		}
		if req.Category != "" {
			fmt.Printf("   Category: %s\n", req.Category)
		}
		if req.Description != "" {
			fmt.Printf("   Description: %s\n", req.Description)
		}
		fmt.Println()
	}

	return nil
}

func listActivity(ctx context.Context, config Config, limit int) error {
	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	entries, err := st.RecentActivity(ctx, "", limit)
	if err != nil {
		return fmt.Errorf("failed to read activity journal: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No activity recorded yet.")
		return nil
	}

	fmt.Printf("Showing %d activity entries:\n\n", len(entries))

	for i, entry := range entries {
		fmt.Printf("%d. [%s] %s\n", i+1, strings.ToUpper(entry.Action), entry.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("   Actor: %s\n", entry.Actor)
		if entry.FileID != "" {
			fmt.Printf("   Document: %s\n", entry.FileID)
		}
		if msg, ok := entry.Details["message"].(string); ok && msg != "" {
			fmt.Printf("   Message: %s\n", msg)
		}
		fmt.Println()
	}

	return nil
}
