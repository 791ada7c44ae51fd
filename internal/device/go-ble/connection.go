package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/groutine"
)

// BLEConnection is a go-ble backed device.Peripheral.
type BLEConnection struct {
	address  string
	platform device.PlatformConfig
	logger   *logrus.Logger

	writeMutex sync.Mutex
	connMutex  sync.RWMutex

	dev        ble.Device
	client     ble.Client
	chars      map[string]map[string]*ble.Characteristic
	subscribed []*ble.Characteristic

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var _ device.Peripheral = (*BLEConnection)(nil)

// NewBLEConnection creates an unconnected peripheral for address.
func NewBLEConnection(address string, platform device.PlatformConfig, logger *logrus.Logger) *BLEConnection {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(device.ErrNotConnected)

	return &BLEConnection{
		address:  address,
		platform: platform,
		logger:   logger,
		chars:    make(map[string]map[string]*ble.Characteristic),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Address returns the transport address this connection dials.
func (c *BLEConnection) Address() string {
	return c.address
}

// Connect dials the device, discovers its profile and starts the disconnect monitor.
func (c *BLEConnection) Connect(ctx context.Context, opts *device.ConnectOptions) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if strings.TrimSpace(c.address) == "" {
		c.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}

	if c.isConnectedInternal() {
		c.logger.WithField("address", c.address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}
	c.releaseStaleClient()

	timeout := device.DefaultConnectTimeout
	if opts != nil && opts.ConnectTimeout > 0 {
		timeout = opts.ConnectTimeout
	}

	c.logger.WithFields(logrus.Fields{
		"address": c.address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	if c.dev == nil {
		dev, err := DeviceFactory(c.platform)
		if err != nil {
			c.logger.WithField("error", err).Error("Failed to create BLE device")
			return fmt.Errorf("failed to create BLE device: %w", err)
		}
		c.dev = dev
	}

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.dev.Dial(connCtx, ble.NewAddr(c.address))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address %q: %w", c.address, NormalizeError(err))
	}

	c.logger.WithField("address", c.address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars := make(map[string]map[string]*ble.Characteristic, len(profile.Services))
	total := 0
	for _, svc := range profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		byUUID := make(map[string]*ble.Characteristic, len(svc.Characteristics))
		for _, ch := range svc.Characteristics {
			byUUID[device.NormalizeUUID(ch.UUID.String())] = ch
			total++
		}
		chars[svcUUID] = byUUID
	}

	c.client = client
	c.chars = chars
	c.subscribed = nil
	// Derived from Background: the link outlives the dial context.
	c.ctx, c.cancel = context.WithCancelCause(context.Background())

	if monitored, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		linkCtx, linkCancel := c.ctx, c.cancel
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			select {
			case <-monitored.Disconnected():
				c.logger.WithField("address", c.address).Warn("Peripheral reported disconnection, cancelling connection context")
				linkCancel(device.ErrNotConnected)
			case <-linkCtx.Done():
			}
		})
	} else {
		c.logger.Debug("Client does not support Disconnected() channel")
	}

	c.logger.WithFields(logrus.Fields{
		"address":         c.address,
		"services":        len(chars),
		"characteristics": total,
	}).Info("BLE device connected successfully")
	return nil
}

// releaseStaleClient drops a client whose link was already reported lost.
// Caller must hold connMutex.
func (c *BLEConnection) releaseStaleClient() {
	if c.client == nil {
		return
	}
	if err := c.client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Debug("Cancelling stale connection failed")
	}
	c.client = nil
	c.subscribed = nil
}

// Disconnect unsubscribes and closes the link. Disconnecting twice is a no-op.
func (c *BLEConnection) Disconnect() error {
	c.connMutex.Lock()
	client := c.client
	subscribed := c.subscribed
	cancel := c.cancel
	c.client = nil
	c.subscribed = nil
	c.connMutex.Unlock()

	if client == nil {
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	c.logger.WithField("address", c.address).Info("Disconnecting BLE device...")
	cancel(device.ErrNotConnected)

	for _, ch := range subscribed {
		if err := NormalizeError(client.Unsubscribe(ch, false)); err != nil {
			c.logger.WithFields(logrus.Fields{
				"char_uuid": ch.UUID.String(),
				"error":     err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	if err := client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	c.logger.Info("BLE device disconnected successfully")
	return nil
}

// isConnectedInternal checks the connection status without acquiring locks.
// Should only be called when the caller already holds connMutex.
func (c *BLEConnection) isConnectedInternal() bool {
	return c.client != nil && c.ctx.Err() == nil
}

// IsConnected is a non-blocking connectivity query.
func (c *BLEConnection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.isConnectedInternal()
}

// ConnectionContext is cancelled when the link drops or Disconnect is called.
func (c *BLEConnection) ConnectionContext() context.Context {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.ctx
}

// lookup finds a discovered characteristic. Caller must hold connMutex.
func (c *BLEConnection) lookup(service, characteristic string) (*ble.Characteristic, error) {
	svc, ok := c.chars[device.NormalizeUUID(service)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	ch, ok := svc[device.NormalizeUUID(characteristic)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return ch, nil
}

// Subscribe enables notifications on a characteristic.
func (c *BLEConnection) Subscribe(service, characteristic string, handler device.NotificationHandler) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.isConnectedInternal() {
		return device.ErrNotConnected
	}
	ch, err := c.lookup(service, characteristic)
	if err != nil {
		return err
	}
	if ch.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications: %w", characteristic, device.ErrUnsupported)
	}

	indicate := ch.Property&ble.CharNotify == 0
	if err := NormalizeError(c.client.Subscribe(ch, indicate, ble.NotificationHandler(handler))); err != nil {
		c.logger.WithFields(logrus.Fields{
			"service_uuid": service,
			"char_uuid":    characteristic,
			"error":        err,
		}).Error("Failed to subscribe to characteristic notifications")
		return fmt.Errorf("subscribe %s: %w", characteristic, err)
	}
	c.subscribed = append(c.subscribed, ch)

	c.logger.WithFields(logrus.Fields{
		"service_uuid": service,
		"char_uuid":    characteristic,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

// Write sends data to a characteristic. Writes are serialized.
func (c *BLEConnection) Write(service, characteristic string, data []byte, withResponse bool) error {
	c.connMutex.RLock()
	if !c.isConnectedInternal() {
		c.connMutex.RUnlock()
		return device.ErrNotConnected
	}
	ch, err := c.lookup(service, characteristic)
	client := c.client
	c.connMutex.RUnlock()
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := NormalizeError(client.WriteCharacteristic(ch, data, !withResponse)); err != nil {
		return fmt.Errorf("write %s: %w", characteristic, err)
	}
	c.logger.WithFields(logrus.Fields{
		"char_uuid": characteristic,
		"bytes":     len(data),
	}).Debug("Wrote characteristic")
	return nil
}
