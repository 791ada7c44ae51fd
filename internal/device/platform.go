package device

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// PlatformConfig captures host BLE quirks. It is built once at startup and
// passed to everything that scans or connects.
type PlatformConfig struct {
	// OS is the host operating system (runtime.GOOS).
	OS string
	// Interface selects the adapter, e.g. "hci0". Ignored where the OS owns adapter selection.
	Interface string
	// StableAddresses is false where the OS hides real device addresses behind
	// per-host identifiers, so devices must be matched by name.
	StableAddresses bool
}

// DetectPlatform returns the configuration for the running host.
func DetectPlatform(iface string) PlatformConfig {
	return PlatformFor(runtime.GOOS, iface)
}

// PlatformFor returns the configuration for a given OS.
func PlatformFor(goos, iface string) PlatformConfig {
	cfg := PlatformConfig{OS: goos, Interface: iface, StableAddresses: true}
	if goos == "darwin" {
		cfg.Interface = ""
		cfg.StableAddresses = false
	}
	return cfg
}

// AdapterIndex parses the numeric adapter id from Interface ("hci1" -> 1).
// An empty Interface selects adapter 0.
func (c PlatformConfig) AdapterIndex() (int, error) {
	iface := strings.TrimSpace(c.Interface)
	if iface == "" {
		return 0, nil
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(iface), "hci"))
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid BLE interface %q: expected hciN", c.Interface)
	}
	return idx, nil
}
