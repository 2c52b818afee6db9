package cmd

import (
	"fmt"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/spf13/cobra"
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract <file-id>",
	Short: "Extract requirements from an uploaded document",
	Long: `Ask the backend to extract requirements from an uploaded document.
The document must have been uploaded first; use 'list' to find its ID.

Examples:
  # Extract requirements from a document
  medgen-console extract file_123`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	fileID := args[0]

	client, err := api.NewClient(config.API.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	result, err := client.ExtractRequirements(ctx, fileID)
	if err != nil {
		return fmt.Errorf("extraction failed for %s: %w", fileID, err)
	}

	if result.Message != "" {
		fmt.Println(result.Message)
	}
	fmt.Printf("Extracted %d requirements:\n\n", result.RequirementCount)
	for i, req := range result.Requirements {
		fmt.Printf("%d. [%s] %s\n", i+1, req.ReqTitleID, req.Title)
	}

	journalCLI(ctx, config, fileID, "", store.ActionExtract, map[string]interface{}{
		"message":           result.Message,
		"requirement_count": result.RequirementCount,
	})

	return nil
}
