package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "fifo-engine",
	Short: "FIFO allocation engine",
	Long: `FIFO allocation engine that derives which buy lots funded which sells
from the immutable trade ledger.

Allocations are computed per symbol in first-in-first-out order, validated
for conservation and exact PnL, and published atomically under a
monotonically increasing version. Consumers read through the current-version
pointer, so a batch is either fully visible or not visible at all.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadEnv loads a .env file when present. Missing files are fine; the
// environment may already be populated.
func loadEnv() {
	err := godotenv.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment")
	}
}
