package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	apiURL     string
	dbPath     string
	redisURL   string
	logLevel   string
	watchDir   string
	exportsDir string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "medgen-console",
	Short: "Terminal dashboard for AI-generated healthcare test cases",
	Long: `MedGen Console is a terminal dashboard for a test case generation backend
that turns healthcare requirement documents into reviewable test cases.

Features:
- Requirement document upload and AI requirement extraction
- Test case generation per document or per requirement
- Compliance and risk reporting with CSV and text export
- Jira push with issue key mapping
- Watch folder auto-upload and a local activity journal`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.medgen-console.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8000", "Base URL of the test generation backend")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/medgen-console.db", "SQLite activity journal path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "redis://localhost:6379", "Redis connection URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&watchDir, "watch-dir", "./data/incoming", "Directory watched for new requirement documents")
	rootCmd.PersistentFlags().StringVar(&exportsDir, "exports-dir", "./exports", "Directory for CSV and report exports")

	// Bind flags to viper
	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("watch.dir", rootCmd.PersistentFlags().Lookup("watch-dir"))
	viper.BindPFlag("exports.dir", rootCmd.PersistentFlags().Lookup("exports-dir"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".medgen-console" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".medgen-console")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Set defaults
	viper.SetDefault("api.url", "http://localhost:8000")
	viper.SetDefault("database.path", "./data/medgen-console.db")
	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("watch.dir", "./data/incoming")
	viper.SetDefault("exports.dir", "./exports")
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return Config{
		API: APIConfig{
			URL: viper.GetString("api.url"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		Watch: WatchConfig{
			Dir: viper.GetString("watch.dir"),
		},
		Exports: ExportsConfig{
			Dir: viper.GetString("exports.dir"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Exports  ExportsConfig  `mapstructure:"exports"`
}

type APIConfig struct {
	URL string `mapstructure:"url"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type WatchConfig struct {
	Dir string `mapstructure:"dir"`
}

type ExportsConfig struct {
	Dir string `mapstructure:"dir"`
}
