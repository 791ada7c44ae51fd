package goble

import (
	"fmt"

	"github.com/srg/openstrap/internal/device"
)

// NormalizeError maps go-ble errors onto the device error taxonomy.
// The exact CoreBluetooth power-off message is matched first since it does not
// mention the adapter state in words the generic matcher knows.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?" {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	}
	return device.NormalizeError(err)
}
