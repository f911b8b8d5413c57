package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/internal/device"
	goble "github.com/srg/miflora/internal/device/go-ble"
	"github.com/srg/miflora/pkg/config"
	"github.com/srg/miflora/scanner"
)

// AdapterFactory opens the BLE adapter. The returned function releases it.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(ctx context.Context, logger *logrus.Logger) (device.Adapter, func() error, error) {
	a := goble.NewAdapter(logger)
	a.Open(ctx)
	return a, a.Close, nil
}

// session bundles what every command needs: configuration, a logger and a
// discovery engine bound to an open adapter.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	engine *scanner.Engine
	close  func() error
}

// newSession loads the configuration named by --config, configures logging
// and opens the adapter.
func newSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	adapter, closeAdapter, err := AdapterFactory(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE adapter: %w", err)
	}

	return &session{
		cfg:    cfg,
		logger: logger,
		engine: scanner.NewEngine(adapter, &cfg.Device, logger),
		close:  closeAdapter,
	}, nil
}

// Close disconnects every device the engine created, then releases the
// adapter.
func (s *session) Close() {
	for _, dev := range s.engine.Devices() {
		if err := dev.Disconnect(context.Background()); err != nil {
			s.logger.WithError(err).WithField("address", dev.Address()).Debug("Disconnect on exit failed")
		}
	}
	if err := s.close(); err != nil {
		s.logger.WithError(err).Debug("Closing adapter failed")
	}
}

// findDevice scans until address advertises or the scan duration runs out.
func (s *session) findDevice(ctx context.Context, cmd *cobra.Command, address string) (*flora.Device, error) {
	opts := s.cfg.Scan
	opts.Addresses = []string{address}
	opts.IgnoreUnknown = true
	opts.KeepUnknownTypes = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Looking for "+address, opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	if _, err := s.engine.Discover(ctx, &opts, progress.Callback()); err != nil {
		return nil, err
	}
	dev, ok := s.engine.Device(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	return dev, nil
}

// interruptContext returns a context cancelled on Ctrl+C or SIGTERM.
func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
