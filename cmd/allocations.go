package cmd

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/version"
)

//nolint:gochecknoglobals // Cobra boilerplate
var allocationsCmd = &cobra.Command{
	Use:   "allocations",
	Short: "Print allocation rows for a symbol",
	Long: `Prints the allocation rows for a symbol as JSON, one batch at a time.

Without --version the current published version is used. Use
--unmatched-only to list only the remainder rows flagged for manual review.`,
	RunE: runAllocations,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(allocationsCmd)
	allocationsCmd.Flags().StringP("symbol", "s", "", "Symbol to query (required)")
	allocationsCmd.Flags().Int64("version", 0, "Pin an explicit version instead of the current pointer")
	allocationsCmd.Flags().Bool("unmatched-only", false, "List only unmatched remainder rows")
	_ = allocationsCmd.MarkFlagRequired("symbol")
}

func runAllocations(cmd *cobra.Command, args []string) error {
	store, _, logger, err := openStorage()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		_ = logger.Sync()
	}()

	symbol, _ := cmd.Flags().GetString("symbol")
	pinned, _ := cmd.Flags().GetInt64("version")
	unmatchedOnly, _ := cmd.Flags().GetBool("unmatched-only")

	ctx := context.Background()

	v := pinned
	if v == 0 {
		pointers := version.NewPointerStore(store.DB(), logger)
		current, found, err := pointers.Current(ctx, symbol)
		if err != nil {
			return fmt.Errorf("resolve current version: %w", err)
		}
		if !found {
			return fmt.Errorf("no version published for %s", symbol)
		}
		v = current
	}

	var allocs []*fifo.Allocation
	if unmatchedOnly {
		allocs, err = store.ListUnmatched(ctx, symbol, v)
	} else {
		allocs, err = store.ListAllocations(ctx, symbol, v)
	}
	if err != nil {
		return fmt.Errorf("list allocations: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]interface{}{
		"symbol":      symbol,
		"version":     v,
		"allocations": allocs,
	})
}
