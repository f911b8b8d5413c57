package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var blinkCmd = &cobra.Command{
	Use:   "blink <address>",
	Short: "Flash the status LED of a sensor",
	Long: `Flash the status LED of a Flower care monitor so it can be found among
other sensors. Flower pots have no LED and are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runBlink,
}

var (
	blinkDuration time.Duration
	blinkTimeout  time.Duration
)

func addBlinkFlags(cmd *cobra.Command) {
	addDeviceFlags(cmd, &blinkDuration, &blinkTimeout)
}

func init() {
	addBlinkFlags(blinkCmd)
}

func runBlink(cmd *cobra.Command, args []string) error {
	configureColor(cmd)

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	applyDeviceFlags(cmd, s.cfg, blinkDuration, blinkTimeout)

	cmd.SilenceUsage = true

	dev, err := s.findDevice(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	if err := dev.Blink(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okColor.Sprint("Blinked"), dev.Address())
	return nil
}
