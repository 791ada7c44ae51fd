package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/ingest"
	"github.com/srg/openstrap/internal/publish"
	"github.com/srg/openstrap/internal/session"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel    string `yaml:"log_level" default:"info"`
	DatabaseURL string `yaml:"database_url" default:"openstrap.db"`

	BLE      BLEConfig      `yaml:"ble"`
	Session  SessionConfig  `yaml:"session"`
	Replay   ReplayConfig   `yaml:"replay"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	Activity ActivityConfig `yaml:"activity"`
}

type BLEConfig struct {
	// Interface selects the adapter on Linux, e.g. hci0. Ignored on macOS.
	Interface   string        `yaml:"interface" default:"hci0"`
	Address     string        `yaml:"address"`
	Name        string        `yaml:"name"`
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"10s"`
}

type SessionConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	SyncIdleTimeout  time.Duration `yaml:"sync_idle_timeout" default:"60s"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff" default:"1s"`
}

type ReplayConfig struct {
	PageSize int `yaml:"page_size" default:"10000"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id" default:"openstrap"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic" default:"openstrap/readings"`
}

type HTTPConfig struct {
	Addr      string `yaml:"addr" default:":8080"`
	StaticDir string `yaml:"static_dir"`
}

type ActivityConfig struct {
	// Script is a Lua classifier path, or "builtin"; empty uses the threshold classifier.
	Script string `yaml:"script"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads an optional YAML file over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps environment variables to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("BLE_INTERFACE"); v != "" {
		cfg.BLE.Interface = v
	}
	if v := os.Getenv("STRAP_ADDR"); v != "" {
		cfg.BLE.Address = v
	}
	if v := os.Getenv("STRAP_NAME"); v != "" {
		cfg.BLE.Name = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("OPENSTRAP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate rejects values no command can work with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("database_url must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"ble.scan_timeout":          c.BLE.ScanTimeout,
		"session.connect_timeout":   c.Session.ConnectTimeout,
		"session.sync_idle_timeout": c.Session.SyncIdleTimeout,
		"session.reconnect_backoff": c.Session.ReconnectBackoff,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Replay.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("replay.page_size must be positive, got %d", c.Replay.PageSize))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

func (c *Config) SessionOptions() *session.Options {
	return &session.Options{
		ConnectTimeout:   c.Session.ConnectTimeout,
		SyncIdleTimeout:  c.Session.SyncIdleTimeout,
		ReconnectBackoff: c.Session.ReconnectBackoff,
	}
}

func (c *Config) ReplayOptions() *ingest.ReplayOptions {
	return &ingest.ReplayOptions{PageSize: c.Replay.PageSize}
}

func (c *Config) MQTTOptions() publish.MQTTOptions {
	return publish.MQTTOptions{
		Broker:   c.MQTT.Broker,
		ClientID: c.MQTT.ClientID,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
		Topic:    c.MQTT.Topic,
	}
}
