package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "openstrap",
		Short: "Download and analyse history from a BLE fitness strap",
		Long: `Talks to a BLE heart-rate strap and keeps its history in a local database:

- Scan for straps and pick one by address, name or interactively
- Download stored history, acknowledging each batch, with automatic reconnects
- Re-run the decoder over stored raw packets
- Label readings as active, inactive or sleep (threshold or Lua policy)
- Parse raw captures offline or over HTTP, and export readings to XLSX or JSON`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging (same as --log-level debug)")
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("database-url", "", "Database URL (sqlite path or postgres://...), overrides DATABASE_URL")
	root.PersistentFlags().String("ble-interface", "", "BLE adapter on Linux, e.g. hci0; overrides BLE_INTERFACE")
	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(
		newScanCmd(),
		newDownloadHistoryCmd(),
		newReprocessCmd(),
		newDetectEventsCmd(),
		newParseCmd(),
		newServeCmd(),
		newExportCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
