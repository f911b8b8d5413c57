//go:build test

package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/protocol"
	"github.com/srg/miflora/internal/testutils"
	"github.com/srg/miflora/scanner"
	"github.com/stretchr/testify/suite"
)

const (
	addrA = "c4:7c:8d:65:d5:26"
	addrB = "c4:7c:8d:65:d5:27"
	addrC = "c4:7c:8d:65:d5:28"
)

type ScannerTestSuite struct {
	suite.Suite

	helper  *testutils.TestHelper
	adapter *testutils.FakeAdapter
	engine  *scanner.Engine
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.adapter = testutils.NewFakeAdapter(true)
	suite.engine = scanner.NewEngine(suite.adapter, nil, suite.helper.Logger)
}

func addresses(devs []*flora.Device) []string {
	out := make([]string, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.Address())
	}
	return out
}

func (suite *ScannerTestSuite) TestDefaultScanOptions() {
	opts := scanner.DefaultScanOptions()

	suite.Equal(10*time.Second, opts.Duration)
	suite.True(opts.AllowDuplicates)
	suite.Nil(opts.Addresses)
	suite.False(opts.IgnoreUnknown)
}

func (suite *ScannerTestSuite) TestDiscoverDeduplicates() {
	// GOAL: Verify advertisements are resolved, deduplicated by normalized address and returned in arrival order
	//
	// TEST SCENARIO: B, A (dash upper-case), A again, unrelated → two devices → B then A → RSSI refreshed

	suite.adapter.QueueAdvertisements(
		testutils.NewFloraAdvertisement(addrB).WithProductID(protocol.ProductIDPot).Build(),
		testutils.NewFloraAdvertisement("C4-7C-8D-65-D5-26").WithRSSI(-70).Build(),
		testutils.NewFloraAdvertisement(addrA).WithRSSI(-50).Build(),
		testutils.NewFloraAdvertisement(addrC).WithServiceUUID("180f").Build(),
	)

	devs, err := suite.engine.Discover(suite.helper.Context(5*time.Second), &scanner.ScanOptions{Duration: 50 * time.Millisecond}, nil)

	suite.Require().NoError(err, "discover MUST succeed")
	suite.Equal([]string{addrB, addrA}, addresses(devs), "devices MUST be deduplicated and kept in arrival order")
	suite.Equal(protocol.TypePot, devs[0].Type())
	suite.Equal(protocol.TypeMonitor, devs[1].Type())
	suite.Equal(-50, devs[1].RSSI(), "repeated advertisement MUST refresh RSSI")
	suite.Equal(int32(1), suite.adapter.Scans.Load())
}

func (suite *ScannerTestSuite) TestEarlyExitWhenAllTargetsFound() {
	// GOAL: Verify discovery returns as soon as every target address has been seen
	//
	// TEST SCENARIO: Targets A,B with 30s duration → A and B advertised → returns well before 30s

	suite.adapter.QueueAdvertisements(
		testutils.NewFloraAdvertisement(addrA).Build(),
		testutils.NewFloraAdvertisement(addrB).Build(),
	)

	start := time.Now()
	devs, err := suite.engine.Discover(suite.helper.Context(5*time.Second), &scanner.ScanOptions{
		Duration:  30 * time.Second,
		Addresses: []string{"C4:7C:8D:65:D5:26", "c4-7c-8d-65-d5-27"},
	}, nil)

	suite.Require().NoError(err)
	suite.Less(time.Since(start), 2*time.Second, "discover MUST exit early once all targets are found")
	suite.ElementsMatch([]string{addrA, addrB}, addresses(devs))
}

func (suite *ScannerTestSuite) TestRunsFullDurationWhenTargetMissing() {
	// GOAL: Verify discovery waits for the whole duration if a target never shows up
	//
	// TEST SCENARIO: Targets A,B → only A advertised → returns at the deadline with A only

	suite.adapter.QueueAdvertisements(testutils.NewFloraAdvertisement(addrA).Build())
	duration := 80 * time.Millisecond

	start := time.Now()
	devs, err := suite.engine.Discover(suite.helper.Context(5*time.Second), &scanner.ScanOptions{
		Duration:  duration,
		Addresses: []string{addrA, addrB},
	}, nil)

	suite.Require().NoError(err, "deadline expiry MUST NOT be an error")
	suite.GreaterOrEqual(time.Since(start), duration, "discover MUST run until the deadline")
	suite.Equal([]string{addrA}, addresses(devs))
}

func (suite *ScannerTestSuite) TestAlreadyScanning() {
	// GOAL: Verify a second concurrent discover fails fast without disturbing the first
	//
	// TEST SCENARIO: First discover running → second discover → ErrAlreadyScanning → first completes with its devices

	suite.adapter.QueueAdvertisements(testutils.NewFloraAdvertisement(addrA).Build())

	type result struct {
		devs []*flora.Device
		err  error
	}
	first := make(chan result, 1)
	go func() {
		devs, err := suite.engine.Discover(context.Background(), &scanner.ScanOptions{Duration: 150 * time.Millisecond}, nil)
		first <- result{devs, err}
	}()

	suite.helper.Eventually(time.Second, suite.engine.IsScanning, "first scan MUST start")

	_, err := suite.engine.Discover(context.Background(), &scanner.ScanOptions{Duration: time.Second}, nil)
	suite.ErrorIs(err, scanner.ErrAlreadyScanning, "concurrent discover MUST be rejected")

	res := <-first
	suite.Require().NoError(res.err, "first discover MUST be unaffected")
	suite.Equal([]string{addrA}, addresses(res.devs))
	suite.False(suite.engine.IsScanning())
}

func (suite *ScannerTestSuite) TestAccumulationAndClear() {
	// GOAL: Verify Discover returns devices accumulated across calls unless cleared, reusing Device instances
	//
	// TEST SCENARIO: Scan emits A → scan emits only B → returns A,B → clearing scan emits only B → returns B

	ctx := suite.helper.Context(5 * time.Second)
	opts := &scanner.ScanOptions{Duration: 20 * time.Millisecond}
	emitOnly := func(addr string) {
		suite.adapter.ScanScript = func(_ context.Context, emit func(device.Advertisement)) {
			emit(testutils.NewFloraAdvertisement(addr).Build())
		}
	}

	emitOnly(addrA)
	first, err := suite.engine.Discover(ctx, opts, nil)
	suite.Require().NoError(err)
	suite.Equal([]string{addrA}, addresses(first))

	emitOnly(addrB)
	second, err := suite.engine.Discover(ctx, opts, nil)
	suite.Require().NoError(err)
	suite.Equal([]string{addrA, addrB}, addresses(second), "earlier devices MUST accumulate, in first-seen order")
	suite.Same(first[0], second[0], "a known device MUST keep its instance across scans")
	suite.Equal([]string{addrA, addrB}, addresses(suite.engine.Devices()))

	cleared, err := suite.engine.Discover(ctx, &scanner.ScanOptions{Duration: 20 * time.Millisecond, ClearDevices: true}, nil)
	suite.Require().NoError(err)
	suite.Equal([]string{addrB}, addresses(cleared), "clearDevices MUST drop earlier devices from the result")
	suite.Equal([]string{addrB}, addresses(suite.engine.Devices()), "clearDevices MUST reset the engine map")
	suite.NotSame(second[1], cleared[0], "a cleared device MUST be recreated")

	_, ok := suite.engine.Device("C4-7C-8D-65-D5-27")
	suite.True(ok, "lookup MUST accept any address notation")
	_, ok = suite.engine.Device(addrA)
	suite.False(ok, "cleared device MUST NOT be found")
}

func (suite *ScannerTestSuite) TestInvalidOptionsDuringScan() {
	// GOAL: Verify a concurrent call is rejected as busy before its options are checked
	//
	// TEST SCENARIO: Scan running → discover with negative duration → ErrAlreadyScanning

	done := make(chan error, 1)
	go func() {
		_, err := suite.engine.Discover(context.Background(), &scanner.ScanOptions{Duration: 100 * time.Millisecond}, nil)
		done <- err
	}()
	suite.helper.Eventually(time.Second, suite.engine.IsScanning, "first scan MUST start")

	_, err := suite.engine.Discover(context.Background(), &scanner.ScanOptions{Duration: -time.Second}, nil)
	suite.ErrorIs(err, scanner.ErrAlreadyScanning)

	var argErr *scanner.InvalidArgumentError
	suite.False(errors.As(err, &argErr), "busy engine MUST NOT validate options")
	suite.NoError(<-done)
}

func (suite *ScannerTestSuite) TestIgnoreUnknown() {
	suite.adapter.QueueAdvertisements(
		testutils.NewFloraAdvertisement(addrA).Build(),
		testutils.NewFloraAdvertisement(addrC).Build(),
	)

	devs, err := suite.engine.Discover(suite.helper.Context(5*time.Second), &scanner.ScanOptions{
		Duration:      50 * time.Millisecond,
		Addresses:     []string{addrA, addrB},
		IgnoreUnknown: true,
	}, nil)

	suite.Require().NoError(err)
	suite.Equal([]string{addrA}, addresses(devs), "devices outside the target list MUST be ignored")
}

func (suite *ScannerTestSuite) TestUnknownProductTypes() {
	suite.adapter.QueueAdvertisements(testutils.NewFloraAdvertisement(addrA).WithProductID(0x0398).Build())
	opts := &scanner.ScanOptions{Duration: 20 * time.Millisecond}

	devs, err := suite.engine.Discover(suite.helper.Context(5*time.Second), opts, nil)
	suite.Require().NoError(err)
	suite.Empty(devs, "unknown products MUST be dropped by default")

	opts.KeepUnknownTypes = true
	devs, err = suite.engine.Discover(suite.helper.Context(5*time.Second), opts, nil)
	suite.Require().NoError(err)
	suite.Require().Len(devs, 1)
	suite.Equal(protocol.TypeUnknown, devs[0].Type())
}

func (suite *ScannerTestSuite) TestWaitsForPowerOn() {
	// GOAL: Verify discovery suspends until the adapter powers on
	//
	// TEST SCENARIO: Adapter off → discover started → no scan yet → power on → scan runs

	suite.adapter = testutils.NewFakeAdapter(false)
	suite.engine = scanner.NewEngine(suite.adapter, nil, suite.helper.Logger)

	var phases []string
	done := make(chan error, 1)
	go func() {
		_, err := suite.engine.Discover(context.Background(), &scanner.ScanOptions{Duration: 10 * time.Millisecond}, func(p string) {
			phases = append(phases, p)
		})
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	suite.Equal(int32(0), suite.adapter.Scans.Load(), "scan MUST NOT start before power on")

	suite.adapter.PowerOn()
	suite.Require().NoError(<-done)
	suite.Equal([]string{"Waiting for adapter", "Scanning", "Processing results"}, phases)
}

func (suite *ScannerTestSuite) TestCancelledWhileWaitingForPowerOn() {
	suite.adapter = testutils.NewFakeAdapter(false)
	suite.engine = scanner.NewEngine(suite.adapter, nil, suite.helper.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := suite.engine.Discover(ctx, nil, nil)
	suite.ErrorIs(err, context.DeadlineExceeded, "caller context MUST end the power-on wait")
	suite.False(suite.engine.IsScanning())
}

func (suite *ScannerTestSuite) TestScanFailurePropagates() {
	suite.adapter.ScanErr = errors.New("hci: operation not permitted")

	_, err := suite.engine.Discover(suite.helper.Context(time.Second), nil, nil)

	var adapterErr *device.AdapterError
	suite.ErrorAs(err, &adapterErr, "adapter failure MUST surface")
}

func (suite *ScannerTestSuite) TestInvalidArguments() {
	tests := []struct {
		name  string
		opts  *scanner.ScanOptions
		field string
	}{
		{name: "negative duration", opts: &scanner.ScanOptions{Duration: -time.Second}, field: "duration"},
		{name: "empty address", opts: &scanner.ScanOptions{Addresses: []string{addrA, "  "}}, field: "addresses"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.engine.Discover(context.Background(), tt.opts, nil)

			var argErr *scanner.InvalidArgumentError
			suite.Require().ErrorAs(err, &argErr)
			suite.Equal(tt.field, argErr.Field)
			suite.Equal(int32(0), suite.adapter.Scans.Load(), "invalid options MUST NOT start a scan")
		})
	}
}

func (suite *ScannerTestSuite) TestEvents() {
	suite.adapter.QueueAdvertisements(
		testutils.NewFloraAdvertisement(addrA).Build(),
		testutils.NewFloraAdvertisement(addrA).Build(),
	)

	_, err := suite.engine.Discover(suite.helper.Context(time.Second), &scanner.ScanOptions{Duration: 20 * time.Millisecond}, nil)
	suite.Require().NoError(err)

	ev := <-suite.engine.Events()
	suite.Equal(scanner.EventNew, ev.Type)
	suite.Equal(addrA, ev.Info.Address)
	ev = <-suite.engine.Events()
	suite.Equal(scanner.EventSeen, ev.Type)
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
