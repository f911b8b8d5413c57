package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/miflora/flora"
)

var realtimeCmd = &cobra.Command{
	Use:   "realtime <address>",
	Short: "Switch live sensing on or off",
	Long: `Switch a sensor into realtime sensing mode and print its live values.

With --interval the values are re-read until Ctrl+C. --off switches realtime
sensing off again, which saves battery on sensors left in realtime mode.`,
	Args: cobra.ExactArgs(1),
	RunE: runRealtime,
}

var (
	realtimeOff      bool
	realtimeInterval time.Duration
	realtimeFormat   string
	realtimeDuration time.Duration
	realtimeTimeout  time.Duration
)

func addRealtimeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&realtimeOff, "off", false, "Switch realtime sensing off")
	cmd.Flags().DurationVarP(&realtimeInterval, "interval", "i", 0, "Re-read values at this interval until interrupted")
	cmd.Flags().StringVarP(&realtimeFormat, "format", "f", "table", "Output format (table, json)")
	addDeviceFlags(cmd, &realtimeDuration, &realtimeTimeout)
}

func init() {
	addRealtimeFlags(realtimeCmd)
}

func runRealtime(cmd *cobra.Command, args []string) error {
	if err := validateFormat(realtimeFormat); err != nil {
		return err
	}
	if realtimeOff && realtimeInterval > 0 {
		return fmt.Errorf("--off and --interval cannot be combined")
	}
	configureColor(cmd)

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	applyDeviceFlags(cmd, s.cfg, realtimeDuration, realtimeTimeout)

	cmd.SilenceUsage = true

	dev, err := s.findDevice(ctx, cmd, args[0])
	if err != nil {
		return err
	}

	if realtimeOff {
		if err := dev.StopRealtime(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okColor.Sprint("Realtime sensing off"), dev.Address())
		return nil
	}

	for {
		if err := printLiveValues(ctx, cmd, dev); err != nil {
			if realtimeInterval > 0 && ctx.Err() != nil {
				return nil
			}
			return err
		}
		if realtimeInterval <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(realtimeInterval):
		}
	}
}

func printLiveValues(ctx context.Context, cmd *cobra.Command, dev *flora.Device) error {
	values, err := dev.QuerySensorValues(ctx)
	if err != nil {
		return err
	}

	res := &flora.QueryResult{
		Address:      dev.Address(),
		Type:         dev.Type(),
		SensorValues: &values,
	}
	if realtimeFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), labelColor.Sprint(time.Now().Format(time.TimeOnly)))
	return writeQueryResult(cmd.OutOrStdout(), res)
}
