package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the XSIG bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Xsig      XsigConfig      `yaml:"xsig"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sync      SyncConfig      `yaml:"sync"`
	Keypads   []KeypadConfig  `yaml:"keypads"`
}

// XsigConfig contains the TCP listener settings for the control processor link.
//
// The control processor dials the bridge, not the other way round: the XSIG
// symbol on the processor is configured with this host/port and reconnects
// on its own schedule.
type XsigConfig struct {
	// Host is the listen address. Default: "0.0.0.0".
	Host string `yaml:"host"`

	// Port is the TCP listen port the XSIG symbol connects to.
	Port int `yaml:"port"`

	// MaxSerialLength caps inbound serial join payloads in bytes.
	// Oversized payloads are dropped without killing the session.
	// Default: 1024.
	MaxSerialLength int `yaml:"max_serial_length"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB join-telemetry settings.
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

// SyncConfig contains the two-way join synchronisation rules.
//
// Rules are validated when the sync engine registers them, not here: the
// config layer only carries them. A join reference is a kind prefix plus a
// join number, e.g. "d12" (digital), "a3" (analog), "s1" (serial).
type SyncConfig struct {
	ToJoins   []ToJoinConfig   `yaml:"to_joins"`
	FromJoins []FromJoinConfig `yaml:"from_joins"`
}

// ToJoinConfig maps external entity state onto an outbound join.
// The source value comes from EntityID (entity state), EntityID plus
// Attribute (one attribute), or ValueTemplate (rendered expression).
type ToJoinConfig struct {
	Join          string `yaml:"join"`
	EntityID      string `yaml:"entity_id,omitempty"`
	Attribute     string `yaml:"attribute,omitempty"`
	ValueTemplate string `yaml:"value_template,omitempty"`
}

// FromJoinConfig invokes an external action when a join changes on the wire.
type FromJoinConfig struct {
	Join string `yaml:"join"`

	// Service is the action identifier in "domain.service" form,
	// e.g. "light.turn_on".
	Service string `yaml:"service"`

	// Data is the action payload. Values may contain templates;
	// "{{.Value}}" is bound to the join value that fired the rule.
	Data map[string]string `yaml:"data,omitempty"`
}

// KeypadConfig describes a multi-button dimmer or keypad device.
//
// In sequential mode BaseJoin is the press join of button 1 and each
// button consumes three consecutive digital joins (press, double press,
// hold). In manual mode every button's joins are listed explicitly.
type KeypadConfig struct {
	Name        string              `yaml:"name"`
	ButtonCount int                 `yaml:"button_count"`
	BaseJoin    int                 `yaml:"base_join,omitempty"`
	Buttons     []ButtonJoinsConfig `yaml:"buttons,omitempty"`

	// LoadJoin is an optional analog join carrying the lighting load level.
	LoadJoin int `yaml:"load_join,omitempty"`

	// LedBindings maps button numbers (1-indexed) to LED bindings.
	LedBindings []LedBindingConfig `yaml:"led_bindings,omitempty"`
}

// ButtonJoinsConfig holds explicit joins for one button in manual mode.
type ButtonJoinsConfig struct {
	Press       int `yaml:"press"`
	DoublePress int `yaml:"double_press"`
	Hold        int `yaml:"hold"`
}

// LedBindingConfig binds a button LED to an external entity's state.
type LedBindingConfig struct {
	Button   int    `yaml:"button"`
	EntityID string `yaml:"entity_id"`
	Invert   bool   `yaml:"invert"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: XSIG_SECTION_KEY
// For example: XSIG_MQTT_HOST, XSIG_INFLUXDB_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Xsig: XsigConfig{
			Host:            "0.0.0.0",
			Port:            16384,
			MaxSerialLength: 1024,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "xsig-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: XSIG_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Listener
	if v := os.Getenv("XSIG_HOST"); v != "" {
		cfg.Xsig.Host = v
	}
	if v := os.Getenv("XSIG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Xsig.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("XSIG_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("XSIG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("XSIG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("XSIG_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("XSIG_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Only structural problems are rejected here. Sync rules and keypad plans
// carry enough domain logic that their validation lives with the components
// that consume them; those components reject offending entries individually
// at registration.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Xsig.Port < 1 || c.Xsig.Port > 65535 {
		errs = append(errs, "xsig.port must be between 1 and 65535")
	}
	if c.Xsig.MaxSerialLength < 1 {
		errs = append(errs, "xsig.max_serial_length must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required (set XSIG_INFLUXDB_TOKEN environment variable)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
