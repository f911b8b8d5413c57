//go:build test

package main

import (
	"errors"
	"testing"

	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/protocol"
	"github.com/srg/miflora/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type QueryTestSuite struct {
	CommandTestSuite
}

func (suite *QueryTestSuite) TestDefaultJSON() {
	// GOAL: Verify query without selectors reads firmware and sensor values
	//
	// TEST SCENARIO: query monitor --format json → firmware + sensor values printed → realtime-enable written once → link closed

	out, _, err := suite.ExecuteCommand("query", MonitorAddress, "-f", "json")

	suite.Require().NoError(err, "query MUST succeed")
	testutils.NewJSONAsserter(suite.T()).WithOptions(testutils.WithStrictKeys()).Assert(out, `{
		"address": "c4:7c:8d:65:d5:26",
		"type": "MiFloraMonitor",
		"rssi": -58,
		"firmwareInfo": {"battery": 100, "firmware": "3.2.1"},
		"sensorValues": {"temperature": 22, "lux": 42, "moisture": 21, "fertility": 800}
	}`)
	suite.Equal([]string{"realtime-enable"}, suite.ModeWrites(MonitorAddress))
	suite.False(suite.Peripherals[MonitorAddress].LastLink().IsOpen(), "link MUST be closed on exit")
}

func (suite *QueryTestSuite) TestTableOutput() {
	out, _, err := suite.ExecuteCommand("query", MonitorAddress, "--all")

	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, `
Address      c4:7c:8d:65:d5:26
Type         MiFloraMonitor
RSSI         -58 dBm
Battery      100 %
Firmware     3.2.1
Temperature  22.0 °C
Light        42 lux
Moisture     21 %
Fertility    800 µS/cm
Serial       dc00002a000000152003
`)
	suite.Equal([]string{"realtime-enable", "serial"}, suite.ModeWrites(MonitorAddress))
}

func (suite *QueryTestSuite) TestSelectors() {
	// GOAL: Verify --serial alone only switches to serial mode
	//
	// TEST SCENARIO: query --serial → only serial in output → only serial mode written → firmware never read

	out, _, err := suite.ExecuteCommand("query", MonitorAddress, "--serial", "-f", "json")

	suite.Require().NoError(err)
	testutils.NewJSONAsserter(suite.T()).WithOptions(testutils.WithStrictKeys()).Assert(out, `{
		"address": "c4:7c:8d:65:d5:26",
		"type": "MiFloraMonitor",
		"rssi": -58,
		"serial": "dc00002a000000152003"
	}`)
	suite.Equal([]string{"serial"}, suite.ModeWrites(MonitorAddress))
	suite.Zero(suite.Peripherals[MonitorAddress].Characteristic(protocol.DataServiceUUID, protocol.FirmwareCharacteristicUUID).Reads.Load(),
		"firmware MUST NOT be read")
}

func (suite *QueryTestSuite) TestDeviceNotFound() {
	// GOAL: Verify a sensor that never advertises yields ErrDeviceNotFound after the scan duration
	//
	// TEST SCENARIO: query unknown address with -d 50ms → ErrDeviceNotFound → nothing dialed

	_, _, err := suite.ExecuteCommand("query", "c4:7c:8d:00:00:99", "-d", "50ms")

	suite.Require().ErrorIs(err, ErrDeviceNotFound)
	suite.Contains(FormatUserError(err), "try a longer --duration")
	suite.Zero(suite.Adapter.Dials.Load(), "nothing MUST be dialed")
}

func (suite *QueryTestSuite) TestModeMismatch() {
	// GOAL: Verify a sensor that does not confirm the realtime mode is reported as a protocol failure
	//
	// TEST SCENARIO: mode characteristic reads back 0000 → query fails with ModeSwitchError → friendly message names the command

	suite.Peripherals[MonitorAddress].Characteristic(protocol.DataServiceUUID, protocol.ModeCharacteristicUUID).Readback([]byte{0x00, 0x00})

	_, _, err := suite.ExecuteCommand("query", MonitorAddress)

	var modeErr *flora.ModeSwitchError
	suite.Require().ErrorAs(err, &modeErr)
	suite.Equal("sensor rejected the realtime-enable command (wrote a01f, read back 0000)", FormatUserError(err))
}

func (suite *QueryTestSuite) TestTimeoutFlag() {
	// GOAL: Verify --timeout bounds every device step
	//
	// TEST SCENARIO: firmware read never completes → query with -t 50ms → ErrTimeout

	suite.Peripherals[MonitorAddress].Characteristic(protocol.DataServiceUUID, protocol.FirmwareCharacteristicUUID).ReadBlock = true

	_, _, err := suite.ExecuteCommand("query", MonitorAddress, "-t", "50ms")

	suite.Require().ErrorIs(err, device.ErrTimeout)
	suite.Contains(FormatUserError(err), "out of range")
}

func (suite *QueryTestSuite) TestRequiresAddress() {
	_, _, err := suite.ExecuteCommand("query")

	suite.Require().Error(err)
	suite.False(errors.Is(err, ErrDeviceNotFound))
	suite.Zero(suite.Adapter.Scans.Load(), "no scan MUST be started without an address")
}

func TestQueryTestSuite(t *testing.T) {
	suite.Run(t, new(QueryTestSuite))
}
