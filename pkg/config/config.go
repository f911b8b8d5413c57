package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/scanner"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"text"`

	Scan     scanner.ScanOptions `yaml:"scan"`
	Device   flora.Options       `yaml:"device"`
	MQTT     MQTTConfig          `yaml:"mqtt"`
	InfluxDB InfluxDBConfig      `yaml:"influxdb"`
	Poll     PollConfig          `yaml:"poll"`
}

// MQTTConfig configures the MQTT reading sink.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID       string        `yaml:"client_id" default:"miflora"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix" default:"miflora"`
	QoS            int           `yaml:"qos" default:"1"`
	Retained       bool          `yaml:"retained"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
}

// InfluxDBConfig configures the InfluxDB reading sink.
type InfluxDBConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url" default:"http://localhost:8086"`
	Token       string        `yaml:"token"`
	Org         string        `yaml:"org"`
	Bucket      string        `yaml:"bucket" default:"miflora"`
	Measurement string        `yaml:"measurement" default:"soil"`
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
}

// PollConfig configures scheduled polling.
type PollConfig struct {
	// Schedule is a cron expression ("*/30 * * * *", "@hourly") or a Go
	// duration ("30m") for a fixed interval.
	Schedule        string        `yaml:"schedule" default:"30m"`
	QuerySerial     bool          `yaml:"query_serial"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"3"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" default:"1h"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file on top of the defaults. An empty path
// or a missing file yields the defaults. Secrets may be supplied through
// MIFLORA_MQTT_PASSWORD and MIFLORA_INFLUXDB_TOKEN instead of the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIFLORA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("MIFLORA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("log_format must be text or json, got %q", c.LogFormat))
	}

	if c.Scan.Duration < 0 {
		errs = append(errs, "scan.duration must not be negative")
	}
	for _, addr := range c.Scan.Addresses {
		switch {
		case device.NormalizeAddress(addr) == "":
			errs = append(errs, "scan.addresses: empty address")
		case partialMAC(addr):
			errs = append(errs, fmt.Sprintf("scan.addresses: %q is not a MAC address", addr))
		}
	}

	t := c.Device.Timeouts
	for name, d := range map[string]time.Duration{
		"connect": t.Connect, "disconnect": t.Disconnect, "discover": t.Discover, "read": t.Read, "write": t.Write,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("device.timeouts.%s must not be negative", name))
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required")
		}
	}

	if strings.TrimSpace(c.Poll.Schedule) == "" {
		errs = append(errs, "poll.schedule is required")
	}
	if c.Poll.BreakerFailures == 0 {
		errs = append(errs, "poll.breaker_failures must be at least 1")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseLevel accepts logrus level names plus "silent", which only lets
// panics through.
func ParseLevel(level string) (logrus.Level, error) {
	if strings.EqualFold(level, "silent") {
		return logrus.PanicLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.PanicLevel, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return logger
}

// partialMAC reports whether addr is written in MAC notation but is not a
// valid MAC. Anything else is accepted as an opaque peripheral id, which is
// what macOS reports when the MAC cannot be recovered from the advertisement.
func partialMAC(addr string) bool {
	if device.IsMAC(addr) {
		return false
	}
	parts := strings.Split(device.NormalizeAddress(addr), ":")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if len(p) > 2 {
			return false
		}
	}
	return true
}
