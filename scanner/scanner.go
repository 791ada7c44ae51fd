// Package scanner discovers straps over BLE and picks one for a session.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/devicefactory"
)

// ErrNoDevice is returned when no candidate survives scanning and selection.
var ErrNoDevice = errors.New("no matching device found")

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DiscoveredDevice is a de-duplicated view of a device's advertisements.
type DiscoveredDevice struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	TxPower     int       `json:"tx_power"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// SanitizeName strips control characters and surrounding whitespace.
// Corrupted name data on the strap shows up as control bytes.
func SanitizeName(name string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name))
}

// IdentityKey combines the sanitized name with the transport id, since some
// hosts report the same placeholder address for several devices.
func IdentityKey(name, address string) string {
	if name == "" {
		name = "Unknown"
	}
	return name + "|" + strings.ToLower(address)
}

// Scanner handles BLE device discovery
type Scanner struct {
	devices  *hashmap.Map[string, *DiscoveredDevice]
	logger   *logrus.Logger
	platform device.PlatformConfig

	scanOptions *ScanOptions
	onDevice    func(DiscoveredDevice)
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// ServiceUUIDs keeps devices advertising at least one of these services.
	ServiceUUIDs []string
	AllowList    []string
	BlockList    []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a new BLE scanner
func NewScanner(platform device.PlatformConfig, logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		logger:   logger,
		platform: platform,
	}, nil
}

// Scan performs BLE discovery with provided options and returns devices by identity key.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DiscoveredDevice, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	normalized := make([]string, 0, len(opts.ServiceUUIDs))
	for _, u := range opts.ServiceUUIDs {
		normalized = append(normalized, device.NormalizeUUID(u))
	}
	scanOpts := *opts
	scanOpts.ServiceUUIDs = normalized
	s.scanOptions = &scanOpts
	s.devices = hashmap.New[string, *DiscoveredDevice]()
	defer func() { s.scanOptions = nil }()

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	dev, err := devicefactory.ScanningDeviceFactory(s.platform)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err = dev.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make(map[string]DiscoveredDevice, s.devices.Len())
	s.devices.Range(func(key string, value *DiscoveredDevice) bool {
		devices[key] = *value
		return true
	})
	if err := ctx.Err(); err != nil {
		return devices, err
	}
	return devices, nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	name := SanitizeName(adv.LocalName())
	key := IdentityKey(name, adv.Addr())

	dev, existing := s.devices.Get(key)
	if !existing {
		if !s.shouldIncludeDevice(adv, s.scanOptions) {
			return
		}
		dev, existing = s.devices.GetOrInsert(key, &DiscoveredDevice{
			Key:         key,
			Name:        name,
			Address:     adv.Addr(),
			Services:    adv.Services(),
			Connectable: adv.Connectable(),
		})
	}

	dev.RSSI = adv.RSSI()
	dev.TxPower = adv.TxPowerLevel()
	dev.LastSeen = time.Now()

	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name,
			"address": dev.Address,
			"rssi":    dev.RSSI,
		}).Info("Discovered new device")
	}
	if s.onDevice != nil {
		s.onDevice(*dev)
	}
}

// shouldIncludeDevice applies the allow/block/service filters
func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	addr := strings.ToLower(adv.Addr())

	for _, blocked := range opts.BlockList {
		if addr == strings.ToLower(blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == strings.ToLower(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		for _, required := range opts.ServiceUUIDs {
			for _, advUUID := range adv.Services() {
				if required == device.NormalizeUUID(advUUID) {
					return true
				}
			}
		}
		return false
	}

	return true
}

// Sorted returns devices ordered by identity key.
func Sorted(devices map[string]DiscoveredDevice) []DiscoveredDevice {
	out := make([]DiscoveredDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Find scans and lets selector pick one device. Selectors implementing Matcher
// end the scan as soon as a matching device is seen.
func (s *Scanner) Find(ctx context.Context, opts *ScanOptions, selector Selector) (DiscoveredDevice, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if m, ok := selector.(Matcher); ok {
		s.onDevice = func(d DiscoveredDevice) {
			if m.Match(d) {
				cancel()
			}
		}
		defer func() { s.onDevice = nil }()
	}

	devices, err := s.Scan(scanCtx, opts, nil)
	if err != nil && ctx.Err() != nil {
		return DiscoveredDevice{}, err
	}

	candidates := Sorted(devices)
	if len(candidates) == 0 {
		return DiscoveredDevice{}, ErrNoDevice
	}

	idx, err := selector.Select(candidates)
	if err != nil {
		return DiscoveredDevice{}, err
	}
	if idx < 0 || idx >= len(candidates) {
		return DiscoveredDevice{}, fmt.Errorf("selection %d out of range: %w", idx, ErrNoDevice)
	}
	return candidates[idx], nil
}
