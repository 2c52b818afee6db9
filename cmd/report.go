package cmd

import (
	"fmt"
	"os"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/format"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/spf13/cobra"
)

var (
	reportCSVPath string
	reportOutPath string
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report <file-id>",
	Short: "Print a compliance and risk report for a document",
	Long: `Build a compliance and risk report from the generated test cases of a
document. The report is printed to stdout by default; --out writes the text
report to a file and --csv additionally exports the test cases as CSV.

Examples:
  # Print the report
  medgen-console report file_123

  # Write the report and a CSV export
  medgen-console report file_123 --out report.txt --csv testcases.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportCSVPath, "csv", "", "Write the test cases as CSV to this path")
	reportCmd.Flags().StringVar(&reportOutPath, "out", "", "Write the text report to this path instead of stdout")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	fileID := args[0]

	client, err := api.NewClient(config.API.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	grouped, err := client.TestCasesByFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("no test cases for %s: %w", fileID, err)
	}
	cases := grouped.Flatten()
	if len(cases) == 0 {
		return fmt.Errorf("no test cases for %s: generate them first", fileID)
	}

	// The metrics endpoint is advisory; the tallies can be computed locally.
	lastUpdated := ""
	if metrics, err := client.ComplianceMetrics(ctx, fileID); err == nil {
		lastUpdated = metrics.LastUpdated
	} else {
		fmt.Fprintf(os.Stderr, "Warning: compliance metrics unavailable: %v\n", err)
	}

	filename := ""
	if files, err := client.ListFiles(ctx); err == nil {
		for _, f := range files {
			if f.FileID == fileID {
				filename = f.Filename
				break
			}
		}
	}

	report := format.ReportText(format.ReportData{
		Filename:    filename,
		FileID:      fileID,
		Window:      "all time",
		Total:       len(cases),
		RiskCounts:  format.RiskCounts(cases),
		TagCounts:   format.TagCounts(cases),
		LastUpdated: lastUpdated,
	})

	wrote := []string{}
	if reportOutPath != "" {
		if err := os.WriteFile(reportOutPath, []byte(report), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportOutPath)
		wrote = append(wrote, reportOutPath)
	} else {
		fmt.Print(report)
	}

	if reportCSVPath != "" {
		data, err := format.TestCaseCSV(cases)
		if err != nil {
			return fmt.Errorf("failed to build CSV: %w", err)
		}
		if err := os.WriteFile(reportCSVPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write CSV: %w", err)
		}
		fmt.Printf("CSV written to %s (%d test cases)\n", reportCSVPath, len(cases))
		wrote = append(wrote, reportCSVPath)
	}

	if len(wrote) > 0 {
		journalCLI(ctx, config, fileID, filename, store.ActionExport, map[string]interface{}{
			"message": fmt.Sprintf("Exported report for %s", fileID),
			"paths":   wrote,
		})
	}

	return nil
}
