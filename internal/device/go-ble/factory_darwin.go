//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/srg/openstrap/internal/device"
)

// CoreBluetooth owns adapter selection, so platform.Interface is ignored.
func newPlatformDevice(_ device.PlatformConfig) (ble.Device, error) {
	return darwin.NewDevice()
}
