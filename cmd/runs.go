package cmd

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Print the computation log for a symbol",
	Long: `Prints the computation log for a symbol as JSON, newest first. Every
run that ever started is listed with its type, version, status, and counters,
including failed runs whose rows were never published.`,
	RunE: runRuns,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringP("symbol", "s", "", "Symbol to query (required)")
	runsCmd.Flags().Int("limit", 50, "Maximum number of runs to list")
	_ = runsCmd.MarkFlagRequired("symbol")
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, _, logger, err := openStorage()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		_ = logger.Sync()
	}()

	symbol, _ := cmd.Flags().GetString("symbol")
	limit, _ := cmd.Flags().GetInt("limit")

	runs, err := store.ListRuns(context.Background(), symbol, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(runs)
}
