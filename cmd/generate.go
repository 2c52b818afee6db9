package cmd

import (
	"fmt"
	"sort"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/spf13/cobra"
)

var generateReqIDs []string

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate <file-id>",
	Short: "Generate test cases for a document",
	Long: `Generate test cases for all requirements of a document, or only for
selected requirements. Requirements must have been extracted first.

Examples:
  # Generate test cases for every requirement of a document
  medgen-console generate file_123

  # Generate only for two requirements (runs sequentially)
  medgen-console generate file_123 --requirement req_a --requirement req_b`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringArrayVar(&generateReqIDs, "requirement", nil, "Requirement ID to generate for (repeatable)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	config := GetConfig()
	fileID := args[0]

	client, err := api.NewClient(config.API.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	if len(generateReqIDs) == 0 {
		return generateWholeFile(cmd, client, config, fileID)
	}
	return generateSelected(cmd, client, config, fileID)
}

func generateWholeFile(cmd *cobra.Command, client *api.Client, config Config, fileID string) error {
	ctx := cmd.Context()

	fmt.Printf("Generating test cases for %s...\n", fileID)
	result, err := client.GenerateForFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("generation failed for %s: %w", fileID, err)
	}

	if result.Message != "" {
		fmt.Println(result.Message)
	}
	fmt.Printf("Generated %d test cases in %.1fs:\n\n", result.TotalGenerated, result.ElapsedSeconds)

	ids := make([]string, 0, len(result.PerRequirement))
	for id := range result.PerRequirement {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		outcome := result.PerRequirement[id]
		if outcome.Error != "" {
			fmt.Printf("  %s: failed - %s\n", id, outcome.Error)
			continue
		}
		if outcome.Title != "" {
			fmt.Printf("  %s: %d generated (%s)\n", id, outcome.Generated, outcome.Title)
		} else {
			fmt.Printf("  %s: %d generated\n", id, outcome.Generated)
		}
	}

	journalCLI(ctx, config, fileID, "", store.ActionGenerate, map[string]interface{}{
		"message":         fmt.Sprintf("Generated %d test cases", result.TotalGenerated),
		"total_generated": result.TotalGenerated,
	})

	return nil
}

func generateSelected(cmd *cobra.Command, client *api.Client, config Config, fileID string) error {
	ctx := cmd.Context()

	fmt.Printf("Generating test cases for %d requirements of %s...\n\n", len(generateReqIDs), fileID)

	// One requirement at a time; the backend serializes model calls anyway.
	total := 0
	failed := 0
	for _, reqID := range generateReqIDs {
		result, err := client.GenerateForRequirement(ctx, reqID)
		if err != nil {
			fmt.Printf("  %s: failed - %v\n", reqID, err)
			failed++
			continue
		}
		fmt.Printf("  %s: %d generated\n", reqID, len(result.TestCases))
		total += len(result.TestCases)
	}

	fmt.Printf("\nGenerated %d test cases across %d requirements", total, len(generateReqIDs)-failed)
	if failed > 0 {
		fmt.Printf(" (%d failed)", failed)
	}
	fmt.Println()

	if failed == len(generateReqIDs) {
		return fmt.Errorf("generation failed for all %d requirements", failed)
	}

	journalCLI(ctx, config, fileID, "", store.ActionGenerate, map[string]interface{}{
		"message":         fmt.Sprintf("Generated %d test cases for %d selected requirements", total, len(generateReqIDs)-failed),
		"total_generated": total,
	})

	return nil
}
