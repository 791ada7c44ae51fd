//go:build test

package testutils

import (
	"context"

	"github.com/srg/openstrap/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockPeripheral is a testify mock of device.Peripheral.
type MockPeripheral struct {
	mock.Mock
}

var _ device.Peripheral = (*MockPeripheral)(nil)

func (m *MockPeripheral) Address() string {
	return m.Called().String(0)
}

func (m *MockPeripheral) Connect(ctx context.Context, opts *device.ConnectOptions) error {
	return m.Called(ctx, opts).Error(0)
}

func (m *MockPeripheral) Disconnect() error {
	return m.Called().Error(0)
}

func (m *MockPeripheral) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockPeripheral) Subscribe(service, characteristic string, handler device.NotificationHandler) error {
	return m.Called(service, characteristic, handler).Error(0)
}

func (m *MockPeripheral) Write(service, characteristic string, data []byte, withResponse bool) error {
	return m.Called(service, characteristic, data, withResponse).Error(0)
}

func (m *MockPeripheral) ConnectionContext() context.Context {
	if ctx, ok := m.Called().Get(0).(context.Context); ok {
		return ctx
	}
	return nil
}
