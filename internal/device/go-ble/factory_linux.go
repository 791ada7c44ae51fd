//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/srg/openstrap/internal/device"
)

func newPlatformDevice(platform device.PlatformConfig) (ble.Device, error) {
	idx, err := platform.AdapterIndex()
	if err != nil {
		return nil, err
	}
	return linux.NewDevice(ble.OptDeviceID(idx))
}
