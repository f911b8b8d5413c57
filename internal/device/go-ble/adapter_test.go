//go:build test

package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/internal/device"
	goble "github.com/srg/miflora/internal/device/go-ble"
	"github.com/srg/miflora/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	dataService = "0000120400001000800000805f9b34fb"
	firmwareChr = "00001a0200001000800000805f9b34fb"
)

type AdapterTestSuite struct {
	suite.Suite

	logger          *logrus.Logger
	central         *mocks.MockCentral
	originalFactory func() (goble.Central, error)
	originalRetry   time.Duration
	adapter         *goble.Adapter
}

func (suite *AdapterTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.DebugLevel)

	suite.central = &mocks.MockCentral{}
	suite.originalFactory = goble.DeviceFactory
	suite.originalRetry = goble.BringUpRetryInterval
	goble.BringUpRetryInterval = 5 * time.Millisecond
	goble.DeviceFactory = func() (goble.Central, error) { return suite.central, nil }

	suite.adapter = goble.NewAdapter(suite.logger)
}

func (suite *AdapterTestSuite) TearDownTest() {
	goble.DeviceFactory = suite.originalFactory
	goble.BringUpRetryInterval = suite.originalRetry
}

func (suite *AdapterTestSuite) open() {
	suite.adapter.Open(context.Background())
	select {
	case <-suite.adapter.PoweredOn():
	case <-time.After(time.Second):
		suite.FailNow("adapter MUST power on")
	}
}

func (suite *AdapterTestSuite) TestBringUp() {
	// GOAL: Verify the adapter retries bring-up until the radio is powered on
	//
	// TEST SCENARIO: Factory fails twice with bluetooth-off → state poweredOff → third attempt succeeds → PoweredOn closed

	attempts := 0
	goble.DeviceFactory = func() (goble.Central, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
		}
		return suite.central, nil
	}

	suite.Assert().Equal(device.StateUnknown, suite.adapter.State(), "fresh adapter MUST be in unknown state")
	suite.open()

	suite.Assert().Equal(device.StatePoweredOn, suite.adapter.State(), "adapter MUST report poweredOn")
	suite.Assert().Equal(3, attempts, "factory MUST be retried until it succeeds")

	suite.central.On("Stop").Return(nil).Once()
	suite.Assert().NoError(suite.adapter.Close())
	suite.central.AssertExpectations(suite.T())
}

func (suite *AdapterTestSuite) TestScanBeforeOpen() {
	// GOAL: Verify operations before bring-up fail with an adapter error instead of panicking
	//
	// TEST SCENARIO: Scan on unopened adapter → AdapterError wrapping ErrNotInitialized

	err := suite.adapter.Scan(context.Background(), nil, false, func(device.Advertisement) {})

	var adapterErr *device.AdapterError
	suite.Require().ErrorAs(err, &adapterErr, "error MUST be an AdapterError")
	suite.Assert().ErrorIs(err, device.ErrNotInitialized)
}

func (suite *AdapterTestSuite) TestScanFiltersAndConverts() {
	// GOAL: Verify the scan delivers only vendor advertisements converted to device.Advertisement
	//
	// TEST SCENARIO: Radio emits fe95 and unrelated advertisements → only fe95 delivered → fields copied

	suite.open()

	vendor := &mocks.StubAdvertisement{
		Name:     "Flower care",
		Address:  "C4:7C:8D:65:D5:26",
		Strength: -61,
		SvcData:  []ble.ServiceData{{UUID: ble.MustParse("fe95"), Data: []byte{0x71, 0x20, 0x98, 0x00}}},
	}
	other := &mocks.StubAdvertisement{
		Name:    "Headphones",
		Address: "11:22:33:44:55:66",
		Svcs:    []ble.UUID{ble.MustParse("180f")},
	}

	suite.central.On("Scan", mock.Anything, true, mock.Anything).Run(func(args mock.Arguments) {
		h := args.Get(2).(ble.AdvHandler)
		h(other)
		h(vendor)
	}).Return(nil).Once()

	var got []device.Advertisement
	err := suite.adapter.Scan(context.Background(), []string{"fe95"}, true, func(adv device.Advertisement) {
		got = append(got, adv)
	})

	suite.Require().NoError(err, "scan MUST succeed")
	suite.Require().Len(got, 1, "only vendor advertisements MUST be delivered")
	suite.Assert().Equal("Flower care", got[0].LocalName)
	suite.Assert().Equal(-61, got[0].RSSI)
	suite.Assert().Equal("c4:7c:8d:65:d5:26", device.NormalizeAddress(got[0].Address))

	data, ok := got[0].FindServiceData("fe95")
	suite.Assert().True(ok, "service data MUST be carried over")
	suite.Assert().Equal([]byte{0x71, 0x20, 0x98, 0x00}, data)
}

func (suite *AdapterTestSuite) TestScanEndedByContext() {
	// GOAL: Verify a scan stopped by its context returns the context error, not an adapter error
	//
	// TEST SCENARIO: Radio scan blocks until ctx done → Scan returns DeadlineExceeded

	suite.open()
	suite.central.On("Scan", mock.Anything, false, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := suite.adapter.Scan(ctx, []string{"fe95"}, false, func(device.Advertisement) {})

	suite.Assert().ErrorIs(err, context.DeadlineExceeded)
	var adapterErr *device.AdapterError
	suite.Assert().False(errors.As(err, &adapterErr), "context end MUST NOT be reported as adapter failure")
}

func (suite *AdapterTestSuite) TestDialAndDiscover() {
	// GOAL: Verify dialing yields a peripheral that resolves characteristics and disconnects idempotently
	//
	// TEST SCENARIO: Dial → discover firmware characteristic → read → disconnect twice → single CancelConnection

	suite.open()

	client := mocks.NewMockClient()
	svc := &ble.Service{UUID: ble.MustParse(dataService)}
	chr := &ble.Characteristic{UUID: ble.MustParse(firmwareChr)}

	suite.central.On("Dial", mock.Anything, ble.NewAddr("c4:7c:8d:65:d5:26")).Return(client, nil).Once()
	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil).Once()
	client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{chr}, nil).Once()
	client.On("ReadCharacteristic", chr).Return([]byte{0x64, 0x2b, '3', '.', '2', '.', '1'}, nil).Once()
	client.On("CancelConnection").Return(nil).Once()

	p, err := suite.adapter.Dial(context.Background(), "c4:7c:8d:65:d5:26")
	suite.Require().NoError(err, "dial MUST succeed")

	chars, err := p.DiscoverCharacteristics(context.Background(), dataService, firmwareChr)
	suite.Require().NoError(err, "discovery MUST succeed")
	suite.Require().Len(chars, 1, "exactly one characteristic MUST match")
	suite.Assert().Equal("1a02", chars[0].UUID(), "UUID MUST be normalized")

	data, err := chars[0].Read(context.Background())
	suite.Require().NoError(err)
	suite.Assert().Equal(byte(0x64), data[0])

	suite.Require().NoError(p.Disconnect(context.Background()))
	suite.Require().NoError(p.Disconnect(context.Background()), "second disconnect MUST be a no-op")

	select {
	case <-p.Disconnected():
	case <-time.After(time.Second):
		suite.Fail("Disconnected MUST be closed after disconnect")
	}
	client.AssertExpectations(suite.T())
}

func (suite *AdapterTestSuite) TestDiscoverMissingService() {
	// GOAL: Verify a missing service is a NotFoundError and a missing characteristic is an empty result
	//
	// TEST SCENARIO: Service absent → NotFoundError; service present without characteristic → zero matches

	suite.open()

	client := mocks.NewMockClient()
	suite.central.On("Dial", mock.Anything, mock.Anything).Return(client, nil)

	p, err := suite.adapter.Dial(context.Background(), "c4:7c:8d:65:d5:26")
	suite.Require().NoError(err)

	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{}, nil).Once()
	_, err = p.DiscoverCharacteristics(context.Background(), dataService, firmwareChr)
	suite.Assert().ErrorIs(err, device.ErrNotFound, "missing service MUST be NotFound")

	svc := &ble.Service{UUID: ble.MustParse(dataService)}
	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil).Once()
	client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{}, nil).Once()
	chars, err := p.DiscoverCharacteristics(context.Background(), dataService, firmwareChr)
	suite.Assert().NoError(err)
	suite.Assert().Empty(chars, "missing characteristic MUST yield zero matches")
}

func (suite *AdapterTestSuite) TestLinkLossClosesDisconnected() {
	// GOAL: Verify an adapter-reported link loss is surfaced through Disconnected()
	//
	// TEST SCENARIO: Dial → client signals disconnect → peripheral Disconnected closed

	suite.open()

	client := mocks.NewMockClient()
	suite.central.On("Dial", mock.Anything, mock.Anything).Return(client, nil)

	p, err := suite.adapter.Dial(context.Background(), "c4:7c:8d:65:d5:26")
	suite.Require().NoError(err)

	close(client.Down)
	select {
	case <-p.Disconnected():
	case <-time.After(time.Second):
		suite.Fail("link loss MUST close Disconnected")
	}

	suite.Assert().NoError(p.Disconnect(context.Background()), "disconnect after link loss MUST be a no-op")
	client.AssertNotCalled(suite.T(), "CancelConnection")
}

func (suite *AdapterTestSuite) TestDialFailure() {
	suite.open()
	suite.central.On("Dial", mock.Anything, mock.Anything).Return(nil, errors.New("connection failed")).Once()

	_, err := suite.adapter.Dial(context.Background(), "c4:7c:8d:65:d5:26")

	var adapterErr *device.AdapterError
	suite.Require().ErrorAs(err, &adapterErr, "dial failure MUST be an AdapterError")
	suite.Assert().Equal("connect", adapterErr.Op)
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}
