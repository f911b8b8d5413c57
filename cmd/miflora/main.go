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

var rootCmd = &cobra.Command{
	Use:   "miflora",
	Short: "Mi Flora soil sensor tool",
	Long: `Command-line client for Xiaomi Mi Flora soil sensors (Flower care monitor and Flower pot).

- Discover sensors advertising nearby
- Query firmware, battery and live sensor readings
- Blink the status LED to find a sensor in the room
- Poll sensors on a schedule and publish readings to MQTT and InfluxDB`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("miflora %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(blinkCmd)
	rootCmd.AddCommand(realtimeCmd)
	rootCmd.AddCommand(pollCmd)

	addGlobalFlags(rootCmd)

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

// addGlobalFlags registers the flags every subcommand inherits.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level=debug")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
}
