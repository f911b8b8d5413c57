//go:build test

package main

import (
	"testing"
	"time"

	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/testutils"
	"github.com/srg/miflora/scanner"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	CommandTestSuite
}

func (suite *ScanTestSuite) TestHelp() {
	// GOAL: Verify scan command displays help text with all flags
	//
	// TEST SCENARIO: Execute scan --help → returns success → output contains description and flag documentation

	out, _, err := suite.ExecuteCommand("scan", "--help")

	suite.Require().NoError(err, "help command MUST succeed")
	suite.Contains(out, "Scan for Mi Flora sensors advertising nearby", "help MUST contain command description")
	for _, flag := range []string{"--duration", "--format", "--address", "--ignore-unknown", "--watch"} {
		suite.Contains(out, flag, "help MUST document %s", flag)
	}
}

func (suite *ScanTestSuite) TestInvalidFormat() {
	// GOAL: Verify scan command rejects invalid format values before touching the adapter
	//
	// TEST SCENARIO: Execute scan with invalid format → returns error → error lists valid formats → no scan started

	_, _, err := suite.ExecuteCommand("scan", "--format=invalid")

	suite.Require().Error(err, "invalid format MUST return error")
	suite.Contains(err.Error(), "invalid format 'invalid': must be one of [table json]", "error MUST list valid formats")
	suite.Zero(suite.Adapter.Scans.Load(), "no scan MUST be started")
}

func (suite *ScanTestSuite) TestTableOutput() {
	// GOAL: Verify discovered sensors are listed in arrival order with type, name and RSSI
	//
	// TEST SCENARIO: Two sensors in range → scan for both addresses → scan ends early → aligned table printed

	start := time.Now()
	out, _, err := suite.ExecuteCommand("scan", "-d", "30s", "--address", MonitorAddress, "--address", PotAddress)

	suite.Require().NoError(err, "scan MUST succeed")
	suite.Less(time.Since(start), 5*time.Second, "scan MUST end once every address was seen")
	testutils.NewTextAsserter(suite.T()).Assert(out, `
ADDRESS            TYPE            NAME         RSSI     LAST SEEN
c4:7c:8d:65:d5:26  MiFloraMonitor  Flower care  -58 dBm  0s ago
c4:7c:8d:6a:11:02  MiFloraPot      Flower mate  -71 dBm  0s ago
`)
	suite.True(suite.adapterClosed, "adapter MUST be released on exit")
}

func (suite *ScanTestSuite) TestJSONOutput() {
	// GOAL: Verify JSON output carries the identity of every sensor
	//
	// TEST SCENARIO: Scan 100ms with --format json → array of two sensors → lastDiscovery present

	out, _, err := suite.ExecuteCommand("scan", "-d", "100ms", "-f", "json")

	suite.Require().NoError(err, "scan MUST succeed")
	testutils.NewJSONAsserter(suite.T()).Assert(out, `[
		{"address": "c4:7c:8d:65:d5:26", "name": "Flower care", "type": "MiFloraMonitor", "rssi": -58, "lastDiscovery": "<<PRESENCE>>"},
		{"address": "c4:7c:8d:6a:11:02", "name": "Flower mate", "type": "MiFloraPot", "rssi": -71, "lastDiscovery": "<<PRESENCE>>"}
	]`)
}

func (suite *ScanTestSuite) TestIgnoreUnknown() {
	// GOAL: Verify --ignore-unknown keeps only the listed addresses
	//
	// TEST SCENARIO: Scan with --address pot and --ignore-unknown for 100ms → only the pot listed

	out, _, err := suite.ExecuteCommand("scan", "-d", "100ms", "-f", "json", "--address", PotAddress, "--ignore-unknown")

	suite.Require().NoError(err)
	testutils.NewJSONAsserter(suite.T()).Assert(out, `[{"address": "c4:7c:8d:6a:11:02", "type": "MiFloraPot"}]`)
}

func (suite *ScanTestSuite) TestNoSensors() {
	suite.Adapter = testutils.NewFakeAdapter(true)

	out, _, err := suite.ExecuteCommand("scan", "-d", "50ms")

	suite.Require().NoError(err)
	suite.Equal("No sensors discovered\n", out)
}

func (suite *ScanTestSuite) TestConfigDuration() {
	// GOAL: Verify scan duration falls back to the config file and the flag overrides it
	//
	// TEST SCENARIO: Config with 50ms duration → scan without -d ends quickly → invalid address in config rejected

	path := suite.WriteConfig("scan:\n  duration: 50ms\n")

	start := time.Now()
	_, _, err := suite.ExecuteCommand("scan", "--config", path)
	suite.Require().NoError(err)
	suite.Less(time.Since(start), 5*time.Second, "config duration MUST apply")

	path = suite.WriteConfig("scan:\n  addresses: [not-a-mac]\n")
	_, _, err = suite.ExecuteCommand("scan", "--config", path)
	suite.ErrorContains(err, "validating config")
}

func (suite *ScanTestSuite) TestAdapterFailure() {
	suite.Adapter.ScanErr = device.ErrBluetoothOff

	_, _, err := suite.ExecuteCommand("scan", "-d", "50ms")

	suite.Require().Error(err)
	suite.ErrorIs(err, device.ErrBluetoothOff)
	suite.Equal("Bluetooth is turned off, enable it and try again", FormatUserError(err))
}

func (suite *ScanTestSuite) TestInvalidAddress() {
	_, _, err := suite.ExecuteCommand("scan", "-d", "50ms", "--address", " ")

	var argErr *scanner.InvalidArgumentError
	suite.Require().ErrorAs(err, &argErr, "blank address MUST be rejected")
	suite.Equal("addresses", argErr.Field)
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
