package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/spf13/cobra"
)

var confirmPush bool

// pushCmd represents the push command
var pushCmd = &cobra.Command{
	Use:   "push <file-id>",
	Short: "Push generated test cases to Jira",
	Long: `Push the generated test cases of a document to Jira. One issue is
created per requirement; the resulting issue keys are printed afterwards.

WARNING: Pushing the same document twice creates duplicate issues.

Examples:
  # Push with confirmation prompt
  medgen-console push file_123

  # Push without prompting
  medgen-console push file_123 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().BoolVarP(&confirmPush, "yes", "y", false, "Automatically confirm the push")
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	fileID := args[0]

	client, err := api.NewClient(config.API.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	// Preview what would be pushed before creating anything remote
	grouped, err := client.TestCasesByFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to load test cases for %s: %w", fileID, err)
	}
	cases := grouped.Flatten()
	if len(cases) == 0 {
		return fmt.Errorf("nothing to push: generate test cases first")
	}

	fmt.Printf("This will create Jira issues for %d test cases across %d requirements.\n",
		len(cases), len(grouped.Requirements))

	// Confirm operation unless --yes flag is used
	if !confirmPush {
		fmt.Print("Are you sure you want to continue? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if strings.ToLower(response) != "y" && strings.ToLower(response) != "yes" {
			fmt.Println("Push cancelled.")
			return nil
		}
	}

	result, err := client.PushToJira(ctx, fileID)
	if err != nil {
		return fmt.Errorf("push failed for %s: %w", fileID, err)
	}

	if result.Message != "" {
		fmt.Println(result.Message)
	}
	fmt.Printf("Requirements pushed: %d\n", result.RequirementsPushed)

	if len(result.JiraMap) > 0 {
		reqIDs := make([]string, 0, len(result.JiraMap))
		for id := range result.JiraMap {
			reqIDs = append(reqIDs, id)
		}
		sort.Strings(reqIDs)
		fmt.Println()
		for _, id := range reqIDs {
			fmt.Printf("  %s -> %s\n", id, result.JiraMap[id])
		}
	}

	journalCLI(ctx, config, fileID, "", store.ActionPush, map[string]interface{}{
		"message":             result.Message,
		"requirements_pushed": result.RequirementsPushed,
	})

	return nil
}
