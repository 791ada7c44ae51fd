// Package publish forwards decoded readings to external consumers while a
// download is in progress.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/store"
)

var ErrNoBroker = errors.New("mqtt broker is not configured")

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string `default:"openstrap"`
	Username string
	Password string
	// Topic is the prefix; readings go to <Topic>/<device>.
	Topic   string        `default:"openstrap/readings"`
	QoS     byte          `default:"1"`
	Timeout time.Duration `default:"5s"`
}

// Message is the JSON payload of one published reading.
type Message struct {
	Device      string   `json:"device"`
	Timestamp   int64    `json:"timestamp"`
	HeartRate   uint8    `json:"heart_rate"`
	RRIntervals []uint16 `json:"rr_intervals"`
}

// MQTTPublisher publishes readings to an MQTT broker.
type MQTTPublisher struct {
	client mqtt.Client
	opts   MQTTOptions
	device string
	logger *logrus.Logger
}

// clientFactory is swapped in tests.
var clientFactory = mqtt.NewClient

// NewMQTTPublisher connects to the broker. device names the strap in topics and payloads.
func NewMQTTPublisher(opts MQTTOptions, device string, logger *logrus.Logger) (*MQTTPublisher, error) {
	defaults.SetDefaults(&opts)
	if opts.Broker == "" {
		return nil, ErrNoBroker
	}
	if logger == nil {
		logger = logrus.New()
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetConnectTimeout(opts.Timeout)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	client := clientFactory(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timed out after %s", opts.Broker, opts.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", opts.Broker, err)
	}

	logger.WithFields(logrus.Fields{
		"broker": opts.Broker,
		"topic":  opts.Topic,
	}).Info("Publishing readings to MQTT")

	return &MQTTPublisher{client: client, opts: opts, device: device, logger: logger}, nil
}

// Topic is where readings for this device are published.
func (p *MQTTPublisher) Topic() string {
	device := strings.ToLower(strings.ReplaceAll(p.device, ":", ""))
	if device == "" {
		return p.opts.Topic
	}
	return p.opts.Topic + "/" + device
}

func (p *MQTTPublisher) Publish(ctx context.Context, r store.HeartRateReading) error {
	rr := r.RR
	if rr == nil {
		rr = []uint16{}
	}
	payload, err := json.Marshal(Message{
		Device:      p.device,
		Timestamp:   r.Time.Unix(),
		HeartRate:   r.BPM,
		RRIntervals: rr,
	})
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	topic := p.Topic()
	token := p.client.Publish(topic, p.opts.QoS, false, payload)

	timer := time.NewTimer(p.opts.Timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("failed to publish to topic %s: timed out after %s", topic, p.opts.Timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker, waiting briefly for in-flight messages.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// Nop discards readings.
type Nop struct{}

func (Nop) Publish(context.Context, store.HeartRateReading) error { return nil }

func (Nop) Close() error { return nil }
