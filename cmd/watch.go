package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/bus"
	"github.com/seralys/medgen-console/internal/ingest"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/spf13/cobra"
)

var (
	watchOnce     bool
	watchPatterns []string
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a folder and auto-upload new documents",
	Long: `Watch a folder for new requirement documents and upload each one to the
backend. Already uploaded paths are remembered in the local journal and
skipped on restart. Runs headless until interrupted (Ctrl+C).

Examples:
  # Watch the configured incoming folder
  medgen-console watch

  # Watch a specific folder
  medgen-console watch ./drops

  # Upload what is there now and exit
  medgen-console watch --once`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Scan the folder once and exit instead of watching")
	watchCmd.Flags().StringSliceVar(&watchPatterns, "pattern", nil, "Filename patterns to upload (default *.pdf,*.docx,*.txt,*.md,*.html,*.xml)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	logger := log.New(os.Stderr, "[watch] ", log.LstdFlags)

	dir := config.Watch.Dir
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create watch directory %s: %w", dir, err)
	}

	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	client, err := api.NewClient(config.API.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	eventBus := bus.NewBus(config.Redis.URL, logger)
	defer eventBus.Close()

	ingestor := ingest.NewFolderIngestor(client, st, eventBus, ingest.FolderOptions{
		Dir:      dir,
		Watch:    !watchOnce,
		Patterns: watchPatterns,
		Logger:   logger,
	})

	if watchOnce {
		logger.Printf("Scanning %s once", dir)
	} else {
		logger.Printf("Watching %s (Ctrl+C to stop)", dir)
	}

	if err := ingestor.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch failed: %w", err)
	}
	return nil
}
