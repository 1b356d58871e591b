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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kavach",
	Short: "Companion for the Kavach safety wearable",
	Long: `Companion daemon and CLI for the Kavach safety wearable:

- Scan for nearby devices over Bluetooth LE and Classic
- Pair with the wearable and register it with the backend
- Monitor the band's notification characteristic for SOS signals
- Dispatch emergencies with best-effort location, local-first recording
- Manage registered devices, emergency contacts, and incident history

The monitor command holds the standing subscription; everything else is a
one-shot operation against the same local state.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(unpairCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(sosCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file path")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
