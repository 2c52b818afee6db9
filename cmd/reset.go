package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	forceReset bool
	resetRedis bool
	resetDB    bool
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset Redis data and/or the activity journal",
	Long: `Reset command clears the console's Redis streams and/or the local
activity journal. Backend data (documents, requirements, test cases) is
not touched.

By default, both Redis and the journal are reset. You can selectively reset
only Redis or only the journal using the --redis-only or --db-only flags.

WARNING: This operation is irreversible and will permanently delete the
local activity history.

Examples:
  # Reset both Redis and the journal (requires confirmation)
  medgen-console reset

  # Reset with automatic confirmation
  medgen-console reset --force

  # Reset only Redis data
  medgen-console reset --redis-only

  # Reset only the activity journal
  medgen-console reset --db-only`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&forceReset, "force", "f", false, "Automatically confirm reset operation")
	resetCmd.Flags().BoolVar(&resetRedis, "redis-only", false, "Reset only Redis data")
	resetCmd.Flags().BoolVar(&resetDB, "db-only", false, "Reset only the activity journal")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Determine what to reset
	resetBoth := !resetRedis && !resetDB
	if resetBoth {
		resetRedis = true
		resetDB = true
	}

	// Show what will be reset
	var targets []string
	if resetRedis {
		targets = append(targets, "Redis activity streams")
	}
	if resetDB {
		targets = append(targets, "the local activity journal")
	}

	fmt.Printf("This will permanently delete: %s\n", strings.Join(targets, " and "))

	// Confirm operation unless --force flag is used
	if !forceReset {
		fmt.Print("Are you sure you want to continue? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if strings.ToLower(response) != "y" && strings.ToLower(response) != "yes" {
			fmt.Println("Reset operation cancelled.")
			return nil
		}
	}

	// Reset Redis if requested
	if resetRedis {
		if err := resetRedisData(ctx); err != nil {
			fmt.Printf("Warning: Failed to reset Redis data: %v\n", err)

			// If user requested both Redis and journal, offer to continue with just the journal
			resetBoth := !cmd.Flags().Changed("redis-only") && !cmd.Flags().Changed("db-only")
			if resetBoth && resetDB && !forceReset {
				fmt.Print("Would you like to continue with the journal reset only? (y/N): ")
				var response string
				fmt.Scanln(&response)
				if strings.ToLower(response) != "y" && strings.ToLower(response) != "yes" {
					return fmt.Errorf("reset operation cancelled due to Redis connection failure")
				}
			} else if !resetDB {
				// If only Redis was requested and it failed, exit with error
				return fmt.Errorf("failed to reset Redis data: %w", err)
			}
			// If --force flag was used or only the journal reset continues, we continue silently
		} else {
			fmt.Println("✓ Redis data cleared successfully")
		}
	}

	// Reset journal if requested
	if resetDB {
		if err := resetDatabase(ctx); err != nil {
			return fmt.Errorf("failed to reset activity journal: %w", err)
		}
		fmt.Println("✓ Activity journal cleared successfully")
	}

	fmt.Println("Reset operation completed successfully!")
	return nil
}

func resetRedisData(ctx context.Context) error {
	// Get Redis configuration
	redisURL := viper.GetString("redis.url")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	// Parse Redis URL and create client
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	defer client.Close()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Only touch our own keys; the Redis instance may be shared
	keys, err := client.Keys(ctx, "medgen:*").Result()
	if err != nil {
		return fmt.Errorf("failed to list Redis keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No Redis data found to clear")
		return nil
	}

	fmt.Printf("Clearing %d Redis keys/streams...\n", len(keys))

	if err := client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis keys: %w", err)
	}

	return nil
}

func resetDatabase(ctx context.Context) error {
	// Get journal path from configuration
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "./data/medgen-console.db"
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No activity journal found to clear")
		return nil
	}

	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open activity journal: %w", err)
	}
	defer st.Close()

	return st.Reset(ctx)
}
