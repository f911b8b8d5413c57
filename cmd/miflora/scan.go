package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Mi Flora sensors",
	Long: `Scan for Mi Flora sensors advertising nearby and list them with their
product type, name, signal strength and when they were last seen.

With --address the scan ends as soon as every listed sensor was seen.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration      time.Duration
	scanFormat        string
	scanAddresses     []string
	scanIgnoreUnknown bool
	scanKeepUnknown   bool
	scanWatch         bool
)

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	cmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&scanAddresses, "address", "a", nil, "Sensor address to look for (repeatable)")
	cmd.Flags().BoolVar(&scanIgnoreUnknown, "ignore-unknown", false, "Only list sensors given with --address")
	cmd.Flags().BoolVar(&scanKeepUnknown, "keep-unknown-types", false, "Also list sensors with an unrecognised product id")
	cmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print sensors as they are discovered")
}

func init() {
	addScanFlags(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	configureColor(cmd)

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := s.cfg.Scan
	if cmd.Flags().Changed("duration") {
		opts.Duration = scanDuration
	}
	if len(scanAddresses) > 0 {
		opts.Addresses = scanAddresses
	}
	if scanIgnoreUnknown {
		opts.IgnoreUnknown = true
	}
	if scanKeepUnknown {
		opts.KeepUnknownTypes = true
	}

	var stopWatch func()
	if scanWatch {
		stopWatch = watchEvents(ctx, cmd, s.engine)
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for sensors", opts.Duration, "Processing results")
	progress.Start()
	devices, err := s.engine.Discover(ctx, &opts, progress.Callback())
	progress.Stop()

	if stopWatch != nil {
		stopWatch()
	}
	if err != nil {
		return err
	}

	infos := make([]flora.Info, len(devices))
	for i, dev := range devices {
		infos[i] = dev.Info()
	}

	if scanFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), infos)
	}
	return writeDevicesTable(cmd.OutOrStdout(), infos, time.Now())
}

// watchEvents prints a line for every newly discovered sensor until the
// returned function is called.
func watchEvents(ctx context.Context, cmd *cobra.Command, engine *scanner.Engine) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	out := cmd.ErrOrStderr()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-engine.Events():
				if ev.Type != scanner.EventNew {
					continue
				}
				labelColor.Fprintf(out, "\r+ %s", ev.Info.Address)
				okColor.Fprintf(out, " %s %d dBm\n", ev.Info.Type, ev.Info.RSSI)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
