// Package device defines the BLE transport contract consumed by the scanner and
// the strap session: advertisement scanning, a connectable Peripheral with
// notification subscriptions and characteristic writes, the connection error
// taxonomy, and the per-host PlatformConfig.
//
// The go-ble backed implementation lives in the go-ble subpackage; tests use the
// mocks from internal/testutils.
package device
