//go:build test

package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockCentral is a testify mock of the go-ble radio surface.
type MockCentral struct {
	mock.Mock
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockCentral) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

func (m *MockCentral) Stop() error {
	args := m.Called()
	return args.Error(0)
}
