//go:build test

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/protocol"
	"github.com/srg/miflora/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test sensor addresses
const (
	MonitorAddress = "c4:7c:8d:65:d5:26"
	PotAddress     = "c4:7c:8d:6a:11:02"
)

var (
	sensorFixture   = []byte{0xdc, 0x00, 0x00, 0x2a, 0x00, 0x00, 0x00, 0x15, 0x20, 0x03}
	firmwareFixture = []byte{0x64, 0x2b, '3', '.', '2', '.', '1'}
)

// CommandTestSuite runs commands against a FakeAdapter with one Flower care
// monitor and one Flower pot in range. All cmd/miflora suites embed it.
type CommandTestSuite struct {
	suite.Suite

	Helper      *testutils.TestHelper
	Adapter     *testutils.FakeAdapter
	Peripherals map[string]*testutils.FakePeripheral

	originalAdapterFactory func(context.Context, *logrus.Logger) (device.Adapter, func() error, error)
	adapterClosed          bool
}

func (s *CommandTestSuite) SetupTest() {
	color.NoColor = true

	s.Helper = testutils.NewTestHelper(s.T())
	s.Adapter = testutils.NewFakeAdapter(true)
	s.Peripherals = make(map[string]*testutils.FakePeripheral)

	s.AddSensor(testutils.NewFloraAdvertisement(MonitorAddress).WithRSSI(-58))
	s.AddSensor(testutils.NewFloraAdvertisement(PotAddress).WithName("Flower mate").WithProductID(protocol.ProductIDPot).WithRSSI(-71))

	s.adapterClosed = false
	s.originalAdapterFactory = AdapterFactory
	AdapterFactory = func(context.Context, *logrus.Logger) (device.Adapter, func() error, error) {
		return s.Adapter, func() error {
			s.adapterClosed = true
			return nil
		}, nil
	}

	s.resetFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	AdapterFactory = s.originalAdapterFactory
}

// AddSensor puts a sensor with the standard GATT profile in range.
func (s *CommandTestSuite) AddSensor(adv *testutils.AdvertisementBuilder) *testutils.FakePeripheral {
	built := adv.Build()
	p := s.Adapter.AddPeripheral(built.Address)
	p.Characteristic(protocol.DataServiceUUID, protocol.ModeCharacteristicUUID).Echo()
	p.Characteristic(protocol.DataServiceUUID, protocol.DataCharacteristicUUID).SetValue(sensorFixture)
	p.Characteristic(protocol.DataServiceUUID, protocol.FirmwareCharacteristicUUID).SetValue(firmwareFixture)
	s.Adapter.QueueAdvertisements(built)
	s.Peripherals[built.Address] = p
	return p
}

// ModeWrites returns what was written to the mode characteristic of address.
func (s *CommandTestSuite) ModeWrites(address string) []string {
	var out []string
	for _, w := range s.Peripherals[address].Characteristic(protocol.DataServiceUUID, protocol.ModeCharacteristicUUID).Writes() {
		out = append(out, protocol.ModeCommand(w.Data).String())
	}
	return out
}

// WriteConfig writes a YAML config file and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "miflora.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600), "config file MUST be written")
	return path
}

// resetFlags re-registers every command's flags so values from a previous
// test do not leak.
func (s *CommandTestSuite) resetFlags() {
	for cmd, add := range map[*cobra.Command]func(*cobra.Command){
		scanCmd:     addScanFlags,
		queryCmd:    addQueryFlags,
		blinkCmd:    addBlinkFlags,
		realtimeCmd: addRealtimeFlags,
		pollCmd:     addPollFlags,
	} {
		cmd.ResetFlags()
		add(cmd)
	}
}

// ExecuteCommand runs args against a fresh root carrying the global flags.
// It returns stdout and stderr separately.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext is ExecuteCommand with a caller-controlled context,
// standing in for Ctrl+C.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, string, error) {
	root := &cobra.Command{Use: "miflora", SilenceErrors: true}
	addGlobalFlags(root)
	root.AddCommand(scanCmd, queryCmd, blinkCmd, realtimeCmd, pollCmd)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}
