// Package devicefactory is the seam between transport-agnostic callers and the
// go-ble implementation. Both factories are variables so tests can substitute mocks.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/device"
	goble "github.com/srg/openstrap/internal/device/go-ble"
)

// ScanningDeviceFactory creates a device.ScanningDevice for BLE discovery.
var ScanningDeviceFactory = func(platform device.PlatformConfig) (device.ScanningDevice, error) {
	return goble.NewScanner(platform)
}

// PeripheralFactory creates an unconnected peripheral for address.
var PeripheralFactory = func(address string, platform device.PlatformConfig, logger *logrus.Logger) device.Peripheral {
	return goble.NewBLEConnection(address, platform, logger)
}
