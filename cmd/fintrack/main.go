package main

import (
	"os"

	"github.com/boddenberg/fintrack-insights/internal/config"

	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "fintrack",
	Short: "Expense analytics and insight generation service",
	Long:  "Serve spending analytics over HTTP and generate per-user insights with the analysis engine.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// --- Load .env file (for local development) ---
		_ = config.LoadDotEnv(".env")
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", os.Getenv("CONFIG_FILE"), "TOML config file")

	rootCmd.AddCommand(serveCmd, batchCmd, insightCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
