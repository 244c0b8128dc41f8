package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for DeviceLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Session   SessionConfig   `yaml:"session"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies this installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// KeepAlive is the MQTT keepalive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// ConnectTimeout bounds the TCP/TLS dial and CONNACK wait, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
//
// URI takes precedence over Host/Port/TLS when set
// (e.g. "tcp://broker.hivemq.com:1883" or "ssl://host:8883").
type MQTTBrokerConfig struct {
	URI      string `yaml:"uri"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains the default MQTT credentials used when a
// connect request does not supply its own.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SessionConfig controls the session manager.
type SessionConfig struct {
	// OperationTimeout bounds connect/disconnect/subscribe/unsubscribe/publish (seconds).
	OperationTimeout int `yaml:"operation_timeout"`

	// AutoConnect connects to the broker with the configured credentials at startup.
	AutoConnect bool `yaml:"auto_connect"`

	// StreamBuffer is the per-consumer channel buffer of the message stream.
	StreamBuffer int `yaml:"stream_buffer"`

	// HistoryRetention is how long telemetry history rows are kept (hours, 0 = forever).
	HistoryRetention int `yaml:"history_retention"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT bearer-token settings.
// An empty Secret disables API authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVICELINK_SECTION_KEY
// For example: DEVICELINK_DATABASE_PATH, DEVICELINK_MQTT_URI
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

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
// The broker defaults point at the public HiveMQ broker with anonymous access.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "devicelink",
			Name: "DeviceLink",
		},
		Database: DatabaseConfig{
			Path:        "./data/devicelink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "broker.hivemq.com",
				Port: 1883,
			},
			QoS:            1,
			KeepAlive:      30,
			ConnectTimeout: 10,
		},
		Session: SessionConfig{
			OperationTimeout: 10,
			StreamBuffer:     16,
			HistoryRetention: 24 * 7,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
		InfluxDB: InfluxDBConfig{
			URL:           "http://127.0.0.1:8086",
			Org:           "devicelink",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "devicelink",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DEVICELINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DEVICELINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DEVICELINK_MQTT_URI"); v != "" {
		cfg.MQTT.Broker.URI = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DEVICELINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("DEVICELINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DEVICELINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("DEVICELINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("DEVICELINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("DEVICELINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Broker.URI == "" {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host or mqtt.broker.uri is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	} else if !strings.Contains(c.MQTT.Broker.URI, "://") {
		errs = append(errs, "mqtt.broker.uri must include a scheme (tcp://, ssl://, ws://)")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}

	if c.Session.OperationTimeout < 1 {
		errs = append(errs, "session.operation_timeout must be at least 1 second")
	}
	if c.Session.StreamBuffer < 0 {
		errs = append(errs, "session.stream_buffer must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// An empty secret leaves the API open; a short one is rejected.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerURI returns the broker address in paho form.
func (m MQTTConfig) BrokerURI() string {
	if m.Broker.URI != "" {
		return m.Broker.URI
	}
	scheme := "tcp"
	if m.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Broker.Host, m.Broker.Port)
}

// GetOperationTimeout returns the session operation timeout as a Duration.
func (c *Config) GetOperationTimeout() time.Duration {
	return time.Duration(c.Session.OperationTimeout) * time.Second
}

// GetHistoryRetention returns the telemetry history retention as a Duration.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Session.HistoryRetention) * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
