package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/bus"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/spf13/cobra"
)

var uploadInputPaths []string

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload <paths...>",
	Short: "Upload requirement documents to the backend",
	Long: `Upload one or more requirement documents to the test generation backend.
Files passed with --input are uploaded as input data instead of requirement
sources.

Examples:
  # Upload a single requirements document
  medgen-console upload ./docs/cardiac_monitor_srs.docx

  # Upload requirements together with an input data sheet
  medgen-console upload ./docs/srs.pdf --input ./docs/vitals.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringSliceVar(&uploadInputPaths, "input", nil, "Input data files to upload alongside the documents")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	client, err := api.NewClient(config.API.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	result, err := client.UploadFiles(ctx, args, uploadInputPaths)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	if result.Message != "" {
		fmt.Println(result.Message)
	}
	for i, id := range result.FileIDs {
		name := ""
		if i < len(result.Filenames) {
			name = result.Filenames[i]
		}
		fmt.Printf("  %s  %s\n", id, name)
	}

	fileID := ""
	if len(result.FileIDs) > 0 {
		fileID = result.FileIDs[0]
	}
	journalCLI(ctx, config, fileID, strings.Join(result.Filenames, ", "), store.ActionUpload, map[string]interface{}{
		"message":  result.Message,
		"file_ids": result.FileIDs,
	})

	return nil
}

// journalCLI records a subcommand action in the local journal and fans it
// out on the bus. Both are advisory; failures only print a warning.
func journalCLI(ctx context.Context, config Config, fileID, filename, action string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	if filename != "" {
		details["filename"] = filename
	}

	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: journal unavailable: %v\n", err)
	} else {
		if err := st.LogFileAction(ctx, fileID, action, "cli", details); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: journal write failed: %v\n", err)
		}
		st.Close()
	}

	detail := ""
	if msg, ok := details["message"].(string); ok {
		detail = msg
	}
	eventBus := bus.NewBus(config.Redis.URL, log.New(io.Discard, "", 0))
	_ = eventBus.PublishActivity(ctx, bus.ActivityMessage{
		FileID:   fileID,
		Filename: filename,
		Action:   action,
		Actor:    "cli",
		Detail:   detail,
	})
	eventBus.Close()
}
