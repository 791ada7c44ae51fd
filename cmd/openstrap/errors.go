package main

import (
	"errors"
	"fmt"

	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/session"
	"github.com/srg/openstrap/scanner"
)

// ErrNoTerminal is returned when interactive selection is needed but stdin is not a terminal.
var ErrNoTerminal = errors.New("no strap address or name given and stdin is not a terminal")

// FormatUserError renders err for the ERROR: line printed by main.
func FormatUserError(err error) string {
	var notFound *device.NotFoundError
	switch {
	case device.IsConnectionState(err, device.BluetoothOff):
		return "Bluetooth is off or unavailable; enable the adapter and retry"
	case errors.Is(err, scanner.ErrNoDevice):
		return fmt.Sprintf("%v (is the strap nearby and not connected to another host?)", err)
	case errors.Is(err, ErrNoTerminal):
		return fmt.Sprintf("%v; pass --address or --name, or set STRAP_ADDR", err)
	case errors.Is(err, session.ErrConnectionLost):
		return fmt.Sprintf("%v; run download-history again to resume", err)
	case device.IsConnectionState(err, device.NotConnected):
		return fmt.Sprintf("%v (the strap went out of range; move it closer and retry)", err)
	case errors.Is(err, session.ErrSyncTimeout):
		return "the strap stopped sending history; try again closer to the adapter"
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v on this platform", err)
	default:
		return err.Error()
	}
}
