package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for devicelink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Arbitration ArbitrationConfig `yaml:"arbitration"`
	Database    DatabaseConfig    `yaml:"database"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DeviceConfig describes the device identity and its capabilities.
type DeviceConfig struct {
	// Type is the first topic level, e.g. "robot".
	Type string `yaml:"type"`

	// ID pins the device ID. When empty it is derived from Serial, or
	// generated once and persisted under DataDir.
	ID string `yaml:"id"`

	// IDPrefix is prepended to IDs derived from Serial ("Robot" gives "Robot-1F2A3B").
	IDPrefix string `yaml:"id_prefix"`

	// Serial is the hardware serial number as hex.
	Serial string `yaml:"serial"`

	// DataDir holds the persisted device ID.
	DataDir string `yaml:"data_dir"`

	// Actions are the action names controllers may send.
	Actions []string `yaml:"actions"`

	// Sensors are the sensor names the device publishes.
	Sensors []string `yaml:"sensors"`
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
// Delays are in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`

	// MaxAttempts bounds the initial connection loop. 0 uses the default.
	MaxAttempts int `yaml:"max_attempts"`
}

// ArbitrationConfig contains the lease and heartbeat timing.
type ArbitrationConfig struct {
	// LeaseTimeout is how long a controller may stay silent before its lease is revoked.
	LeaseTimeout time.Duration `yaml:"lease_timeout"`

	// HeartbeatInterval is the minimum gap between status publications.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// TickInterval is how often the agent loop polls its timers.
	TickInterval time.Duration `yaml:"tick_interval"`

	// InboxSize bounds the queue between the MQTT callbacks and the loop.
	InboxSize int `yaml:"inbox_size"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long lease events are kept. 0 keeps them forever.
	HistoryRetention time.Duration `yaml:"history_retention"`
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

// DiscoveryConfig contains mDNS advertisement settings.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`

	// Port is the advertised port. 0 advertises the broker port.
	Port int `yaml:"port"`

	// Interface restricts advertisement to one network interface. Empty means all.
	Interface string `yaml:"interface"`
}

// APIConfig contains the local HTTP status API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket settings. Intervals are in seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: DEVICELINK_SECTION_KEY
// For example: DEVICELINK_DEVICE_ID, DEVICELINK_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:     "robot",
			IDPrefix: "Robot",
			DataDir:  "./data",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
				MaxAttempts:  0,
			},
		},
		Arbitration: ArbitrationConfig{
			LeaseTimeout:      5 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			TickInterval:      100 * time.Millisecond,
			InboxSize:         64,
		},
		Database: DatabaseConfig{
			Path:             "./data/devicelink.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		Discovery: DiscoveryConfig{
			Service: "_devicelink._tcp",
			Domain:  "local.",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("DEVICELINK_DEVICE_TYPE"); v != "" {
		cfg.Device.Type = v
	}
	if v := os.Getenv("DEVICELINK_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("DEVICELINK_DEVICE_SERIAL"); v != "" {
		cfg.Device.Serial = v
	}

	// MQTT
	if v := os.Getenv("DEVICELINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("DEVICELINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("DEVICELINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.Type == "" {
		errs = append(errs, "device.type is required")
	} else if !validTopicLevel(c.Device.Type) {
		errs = append(errs, "device.type must not contain '/', '+' or '#'")
	}
	if c.Device.ID != "" && !validTopicLevel(c.Device.ID) {
		errs = append(errs, "device.id must not contain '/', '+' or '#'")
	}
	for _, name := range c.Device.Actions {
		if name == "" || strings.ContainsAny(name, "+#") {
			errs = append(errs, fmt.Sprintf("device.actions: invalid action name %q", name))
		}
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative")
	}

	// Arbitration validation
	if c.Arbitration.LeaseTimeout <= 0 {
		errs = append(errs, "arbitration.lease_timeout must be positive")
	}
	if c.Arbitration.HeartbeatInterval <= 0 {
		errs = append(errs, "arbitration.heartbeat_interval must be positive")
	}
	if c.Arbitration.TickInterval <= 0 {
		errs = append(errs, "arbitration.tick_interval must be positive")
	} else if c.Arbitration.LeaseTimeout > 0 && c.Arbitration.TickInterval >= c.Arbitration.LeaseTimeout {
		errs = append(errs, "arbitration.tick_interval must be shorter than arbitration.lease_timeout")
	}

	// Discovery validation
	if c.Discovery.Enabled && c.Discovery.Service == "" {
		errs = append(errs, "discovery.service is required when discovery is enabled")
	}
	if c.Discovery.Port < 0 || c.Discovery.Port > 65535 {
		errs = append(errs, "discovery.port must be between 0 and 65535")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.WebSocket.PingInterval <= 0 || c.API.WebSocket.PongTimeout <= 0 {
			errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetention < 0 {
		errs = append(errs, "database.history_retention must not be negative")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validTopicLevel reports whether s can be used as a single MQTT topic level.
func validTopicLevel(s string) bool {
	return !strings.ContainsAny(s, "/+#")
}

// ClientID returns the MQTT client ID, falling back to the device ID.
func (c *Config) ClientID(deviceID string) string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return deviceID
}

// DiscoveryPort returns the port to advertise over mDNS.
func (c *Config) DiscoveryPort() int {
	if c.Discovery.Port > 0 {
		return c.Discovery.Port
	}
	return c.MQTT.Broker.Port
}
