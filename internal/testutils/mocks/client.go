//go:build test

package mocks

import (
	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of the GATT calls made on a go-ble client.
// The embedded ble.Client is left nil; only the mocked methods may be used.
type MockClient struct {
	ble.Client
	mock.Mock

	Down chan struct{}
}

// NewMockClient returns a client whose Disconnected channel is open.
func NewMockClient() *MockClient {
	return &MockClient{Down: make(chan struct{})}
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.Down
}
