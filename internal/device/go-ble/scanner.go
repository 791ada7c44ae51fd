package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/openstrap/internal/device"
)

// bleScanner wraps ble.Device to implement device.ScanningDevice
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to device.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	return NormalizeError(s.dev.Scan(ctx, allowDup, bleHandler))
}

// NewScanner creates a device.ScanningDevice on the configured adapter.
func NewScanner(platform device.PlatformConfig) (device.ScanningDevice, error) {
	dev, err := DeviceFactory(platform)
	if err != nil {
		return nil, err
	}
	return &bleScanner{dev: dev}, nil
}
