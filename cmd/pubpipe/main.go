// Package main provides the pubpipe CLI: scrape publication listings, reconcile
// duplicates, build the analytics fact table, export snapshots and serve the API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/publication-pipeline/internal/config"
	"github.com/jonathan/publication-pipeline/internal/telemetry"
)

var (
	configPath string
	verbose    bool

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pubpipe",
	Short: "Academic publication scraping pipeline",
	Long: `pubpipe scrapes publication listings from ACM, IEEE Xplore and ScienceDirect,
stores every record, removes duplicate titles and exports JSON snapshots.

Configuration is read from --config (JSON5), its .local override and environment
variables, in that order of precedence from lowest to highest.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the JSON5 config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print debug logs")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded
	telemetry.InitLogger(verbose || cfg.Verbose)
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
