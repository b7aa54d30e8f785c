package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aimpatfx",
	Short: "AIMPATFX - AI-assisted chart analysis backend",
	Long: `AIMPATFX Unified CLI

Backend for the chart-analysis service: the staged analysis pipeline,
the signal scanner, the economic calendar and the billing webhooks.

Usage:
  go run ./cmd/aimpatfx [command]

Examples:
  go run ./cmd/aimpatfx api
  go run ./cmd/aimpatfx scheduler start
  go run ./cmd/aimpatfx scan
  go run ./cmd/aimpatfx calendar refresh`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
