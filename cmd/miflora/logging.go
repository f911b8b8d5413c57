package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/miflora/pkg/config"
)

// configureLogger builds the command logger. Output format comes from cfg.
// The level is taken from --log-level, then --verbose, then log_level of an
// explicitly given config file; without any of them the CLI stays silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()
	logger.SetLevel(logrus.PanicLevel)

	if levelStr, _ := cmd.Flags().GetString("log-level"); levelStr != "" {
		switch levelStr {
		case "debug", "info", "warn", "error":
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
		}
		level, _ := config.ParseLevel(levelStr)
		logger.SetLevel(level)
		return logger, nil
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
		return logger, nil
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		level, err := config.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(level)
	}
	return logger, nil
}
