package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/miflora/internal/poller"
	"github.com/srg/miflora/internal/publish"
	"github.com/srg/miflora/pkg/config"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll sensors on a schedule and publish readings",
	Long: `Discover sensors and query each of them on the schedule given by poll.schedule
in the configuration file (a cron expression such as "*/30 * * * *" or a duration
such as "30m"). Readings are published to MQTT and/or InfluxDB when those sinks
are enabled in the configuration.

A sensor that fails poll.breaker_failures rounds in a row is skipped for
poll.breaker_timeout.

Example:
  miflora poll --config /etc/miflora.yaml
  miflora poll --once --format json`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

var (
	pollOnce     bool
	pollFormat   string
	pollSchedule string
)

func addPollFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&pollOnce, "once", false, "Run a single round, print the readings and exit")
	cmd.Flags().StringVarP(&pollFormat, "format", "f", "table", "Output format for --once (table, json)")
	cmd.Flags().StringVar(&pollSchedule, "schedule", "", "Override poll.schedule")
}

func init() {
	addPollFlags(pollCmd)
}

// SinkFactory builds the publish sinks enabled in cfg. It returns a nil sink
// when none is enabled. This is a variable so that it can be overridden in
// tests.
var SinkFactory = func(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (publish.Sink, error) {
	var sinks []publish.Sink

	if cfg.MQTT.Enabled {
		s, err := publish.NewMQTTSink(cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.InfluxDB.Enabled {
		s, err := publish.NewInfluxSink(ctx, cfg.InfluxDB, logger)
		if err != nil {
			for _, prev := range sinks {
				_ = prev.Close()
			}
			return nil, fmt.Errorf("influxdb: %w", err)
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return publish.Multi(sinks...), nil
	}
}

func runPoll(cmd *cobra.Command, args []string) error {
	if err := validateFormat(pollFormat); err != nil {
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

	if pollSchedule != "" {
		s.cfg.Poll.Schedule = pollSchedule
	}

	cmd.SilenceUsage = true

	sink, err := SinkFactory(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
	} else if !pollOnce {
		s.logger.Warn("No publish sink enabled, readings are only logged")
	}

	p, err := poller.New(s.engine, sink, s.cfg, s.logger)
	if err != nil {
		return err
	}

	if pollOnce {
		readings, err := p.PollOnce(ctx)
		if len(readings) > 0 {
			if pollFormat == "json" {
				if werr := writeJSON(cmd.OutOrStdout(), readings); werr != nil {
					return werr
				}
			} else {
				for i := range readings {
					if werr := writeQueryResult(cmd.OutOrStdout(), &readings[i].QueryResult); werr != nil {
						return werr
					}
					fmt.Fprintln(cmd.OutOrStdout())
				}
			}
		}
		return err
	}

	if err := p.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Polling on schedule %q, press Ctrl+C to stop\n", s.cfg.Poll.Schedule)

	<-ctx.Done()
	p.Stop()
	return nil
}
