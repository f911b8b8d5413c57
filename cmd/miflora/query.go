package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/pkg/config"
)

var queryCmd = &cobra.Command{
	Use:   "query <address>",
	Short: "Read firmware, battery and sensor values",
	Long: `Connect to a Mi Flora sensor and read its status.

By default the firmware/battery block and the live sensor values are read.
--firmware, --sensors and --serial restrict or extend what is fetched;
--all fetches everything including the serial number.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var (
	queryFirmware bool
	querySensors  bool
	querySerial   bool
	queryAll      bool
	queryFormat   string
	queryDuration time.Duration
	queryTimeout  time.Duration
)

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&queryFirmware, "firmware", false, "Read battery level and firmware version")
	cmd.Flags().BoolVar(&querySensors, "sensors", false, "Read temperature, light, moisture and fertility")
	cmd.Flags().BoolVar(&querySerial, "serial", false, "Read the serial number")
	cmd.Flags().BoolVar(&queryAll, "all", false, "Read everything")
	cmd.Flags().StringVarP(&queryFormat, "format", "f", "table", "Output format (table, json)")
	addDeviceFlags(cmd, &queryDuration, &queryTimeout)
}

// addDeviceFlags registers the flags shared by commands that talk to one
// sensor.
func addDeviceFlags(cmd *cobra.Command, duration, timeout *time.Duration) {
	cmd.Flags().DurationVarP(duration, "duration", "d", 0, "How long to scan for the sensor (default from config, 10s)")
	cmd.Flags().DurationVarP(timeout, "timeout", "t", 0, "Timeout of each connect, discover, read and write step (default from config, 10s)")
}

// applyDeviceFlags overrides configuration values with explicitly set
// --duration and --timeout flags.
func applyDeviceFlags(cmd *cobra.Command, cfg *config.Config, duration, timeout time.Duration) {
	if cmd.Flags().Changed("duration") {
		cfg.Scan.Duration = duration
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Device.Timeouts = flora.Timeouts{
			Connect:    timeout,
			Disconnect: timeout,
			Discover:   timeout,
			Read:       timeout,
			Write:      timeout,
		}
	}
}

func init() {
	addQueryFlags(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := validateFormat(queryFormat); err != nil {
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
	applyDeviceFlags(cmd, s.cfg, queryDuration, queryTimeout)

	cmd.SilenceUsage = true

	dev, err := s.findDevice(ctx, cmd, args[0])
	if err != nil {
		return err
	}

	res, err := queryDevice(ctx, dev)
	if err != nil {
		return err
	}

	if queryFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	return writeQueryResult(cmd.OutOrStdout(), res)
}

// queryDevice fetches what the query flags ask for. Without any of them it
// behaves like Device.Query.
func queryDevice(ctx context.Context, dev *flora.Device) (*flora.QueryResult, error) {
	if queryAll {
		return dev.Query(ctx, flora.WithSerial())
	}
	if !queryFirmware && !querySensors && !querySerial {
		return dev.Query(ctx)
	}

	res := &flora.QueryResult{
		Address: dev.Address(),
		Type:    dev.Type(),
		RSSI:    dev.RSSI(),
	}
	if queryFirmware {
		fw, err := dev.QueryFirmwareInfo(ctx)
		if err != nil {
			return nil, err
		}
		res.FirmwareInfo = &fw
	}
	if querySensors {
		values, err := dev.QuerySensorValues(ctx)
		if err != nil {
			return nil, err
		}
		res.SensorValues = &values
	}
	if querySerial {
		serial, err := dev.QuerySerial(ctx)
		if err != nil {
			return nil, err
		}
		res.Serial = serial
	}
	return res, nil
}
