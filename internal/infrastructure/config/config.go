package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// Config is the root configuration structure for the X10 bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig contains the serial gateway settings.
//
// The serial parameters, timeouts and retry limits are fixed by the
// hardware and are not configurable.
type GatewayConfig struct {
	// Port is the serial device, e.g. "/dev/ttyUSB0".
	Port string `yaml:"port"`

	// MonitoredHouse is the house code reported to the gateway when it
	// asks for the time. Default: "A"
	MonitoredHouse string `yaml:"monitored_house"`
}

// BridgeConfig contains MQTT bridge settings and the device list.
type BridgeConfig struct {
	// ID identifies this bridge in health messages. Default: "x10-bridge-01"
	ID string `yaml:"id"`

	// HealthInterval is the health publish period in seconds. Default: 30
	HealthInterval int `yaml:"health_interval"`

	// Devices maps device IDs to X10 addresses.
	Devices []DeviceConfig `yaml:"devices"`
}

// Device types.
const (
	DeviceTypeAppliance = "appliance"
	DeviceTypeLamp      = "lamp"
	DeviceTypeDimmer    = "dimmer"
)

// DeviceConfig describes one X10 module.
type DeviceConfig struct {
	ID      string `yaml:"device_id"`
	Type    string `yaml:"type"`
	Address string `yaml:"address"`
	Name    string `yaml:"name,omitempty"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: X10BRIDGE_SECTION_KEY
// For example: X10BRIDGE_GATEWAY_PORT, X10BRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port:           "/dev/ttyUSB0",
			MonitoredHouse: "A",
		},
		Bridge: BridgeConfig{
			ID:             "x10-bridge-01",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/x10bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "x10bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: X10BRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("X10BRIDGE_GATEWAY_PORT"); v != "" {
		cfg.Gateway.Port = v
	}
	if v := os.Getenv("X10BRIDGE_GATEWAY_MONITORED_HOUSE"); v != "" {
		cfg.Gateway.MonitoredHouse = v
	}

	// Database
	if v := os.Getenv("X10BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("X10BRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("X10BRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("X10BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("X10BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("X10BRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("X10BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.Port == "" {
		errs = append(errs, "gateway.port is required")
	}
	if _, err := x10.ParseHouse(c.Gateway.MonitoredHouse); err != nil {
		errs = append(errs, "gateway.monitored_house must be a single letter A-P")
	}

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	errs = append(errs, c.validateDevices()...)

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevices checks device IDs are unique and addresses parse.
func (c *Config) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Bridge.Devices))

	for i, d := range c.Bridge.Devices {
		prefix := fmt.Sprintf("bridge.devices[%d]", i)

		if d.ID == "" {
			errs = append(errs, prefix+".device_id is required")
		} else if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("%s.device_id %q is duplicated", prefix, d.ID))
		}
		seen[d.ID] = true

		switch d.Type {
		case DeviceTypeAppliance, DeviceTypeLamp, DeviceTypeDimmer:
		default:
			errs = append(errs, fmt.Sprintf("%s.type %q must be appliance, lamp, or dimmer", prefix, d.Type))
		}

		if !x10.ValidAddress(d.Address) {
			errs = append(errs, fmt.Sprintf("%s.address %q is not a valid X10 address", prefix, d.Address))
		}
	}

	return errs
}

// GetHealthInterval returns the bridge health publish period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// MonitoredHouseCode returns the monitored house letter as a byte.
func (c *Config) MonitoredHouseCode() byte {
	h, err := x10.ParseHouse(c.Gateway.MonitoredHouse)
	if err != nil {
		return 'A'
	}
	return h
}
