//go:build !darwin && !linux

package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/openstrap/internal/device"
)

func newPlatformDevice(platform device.PlatformConfig) (ble.Device, error) {
	return nil, fmt.Errorf("BLE on %s: %w", platform.OS, device.ErrUnsupported)
}
