package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/corefin/fifo-engine/internal/storage"
)

//nolint:gochecknoglobals // Cobra boilerplate
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Creates the engine's tables and indexes if they do not exist:
trades, allocations, computation_runs, inventory_snapshots, snapshot_meta,
and current_versions. Safe to run repeatedly.`,
	RunE: runMigrate,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, _, logger, err := openStorage()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		_ = logger.Sync()
	}()

	err = storage.Migrate(context.Background(), store.DB())
	if err != nil {
		return err
	}

	logger.Info("migration-complete")
	return nil
}
