package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corefin/fifo-engine/internal/app"
	"github.com/corefin/fifo-engine/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the allocation engine service",
	Long: `Starts the allocation engine service, which will:
1. Serve the versioned read API over HTTP
2. Trigger incremental computation sweeps on a schedule
3. Replay full history per symbol on the full-run interval
4. Expose Prometheus metrics and health probes

Use --no-scheduler to serve reads without triggering computation runs.`,
	RunE: runServe,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-scheduler", false, "Serve the read API without scheduling runs")
}

func runServe(cmd *cobra.Command, args []string) error {
	loadEnv()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

	application, err := app.New(cfg, logger, &app.Options{
		DisableScheduler: noScheduler,
	})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
