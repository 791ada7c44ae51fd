package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/openstrap/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(platform device.PlatformConfig) (ble.Device, error) {
	dev, err := newPlatformDevice(platform)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return dev, nil
}
