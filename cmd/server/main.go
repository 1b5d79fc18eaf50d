package main

import (
	"fmt"
	"os"

	"github.com/dkortekaas/declair/internal/config"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "declair",
	Short: "Declair invoicing backend",
	Long: `Declair is the API server of an invoicing administration for Dutch
freelancers: customers, invoices, quotes, expenses, VAT returns and
payments.

Without a subcommand the HTTP server is started.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		cfg = config.Load()
		if _, err := logger.Setup(cfg.Log); err != nil {
			return fmt.Errorf("logger setup: %w", err)
		}
		return cfg.Validate()
	},
	RunE: runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
