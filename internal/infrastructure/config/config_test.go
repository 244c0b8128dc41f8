package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1884
    client_id: "test-client"
  qos: 1
session:
  operation_timeout: 3
  auto_connect: true
api:
  host: "127.0.0.1"
  port: 8081
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.MQTT.Broker.ClientID != "test-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "test-client")
	}
	if got := cfg.MQTT.BrokerURI(); got != "tcp://localhost:1884" {
		t.Errorf("BrokerURI() = %q, want %q", got, "tcp://localhost:1884")
	}
	if !cfg.Session.AutoConnect {
		t.Error("Session.AutoConnect = false, want true")
	}
	if got := cfg.GetOperationTimeout(); got != 3*time.Second {
		t.Errorf("GetOperationTimeout() = %v, want 3s", got)
	}
	// Unset sections keep their defaults.
	if cfg.WebSocket.Path != "/ws" {
		t.Errorf("WebSocket.Path = %q, want default /ws", cfg.WebSocket.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
session:
  operation_timeout: 0
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"site.id", "session.operation_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	valid := func() *Config {
		cfg := defaultConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "with jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret }, wantErr: false},
		{name: "uri overrides host", mutate: func(c *Config) {
			c.MQTT.Broker.Host = ""
			c.MQTT.Broker.Port = 0
			c.MQTT.Broker.URI = "ssl://broker.example.com:8883"
		}, wantErr: false},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing broker host", mutate: func(c *Config) { c.MQTT.Broker.Host = "" }, wantErr: true},
		{name: "uri without scheme", mutate: func(c *Config) { c.MQTT.Broker.URI = "broker:1883" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "zero operation timeout", mutate: func(c *Config) { c.Session.OperationTimeout = 0 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "influx enabled without url", mutate: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.URL = ""
		}, wantErr: true},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMQTTConfig_BrokerURI(t *testing.T) {
	tests := []struct {
		name string
		cfg  MQTTConfig
		want string
	}{
		{"plain", MQTTConfig{Broker: MQTTBrokerConfig{Host: "h", Port: 1883}}, "tcp://h:1883"},
		{"tls", MQTTConfig{Broker: MQTTBrokerConfig{Host: "h", Port: 8883, TLS: true}}, "ssl://h:8883"},
		{"explicit uri", MQTTConfig{Broker: MQTTBrokerConfig{URI: "ws://h:9001/mqtt", Host: "x"}}, "ws://h:9001/mqtt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.BrokerURI(); got != tt.want {
				t.Errorf("BrokerURI() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Session: SessionConfig{HistoryRetention: 2},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetHistoryRetention(); got != 2*time.Hour {
		t.Errorf("GetHistoryRetention() = %v, want 2h", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("DEVICELINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("DEVICELINK_MQTT_URI", "tcp://mqtt.example.com:1883")
	t.Setenv("DEVICELINK_MQTT_PORT", "1999")
	t.Setenv("DEVICELINK_MQTT_CLIENT_ID", "client-7")
	t.Setenv("DEVICELINK_MQTT_USERNAME", "testuser")
	t.Setenv("DEVICELINK_MQTT_PASSWORD", "testpass")
	t.Setenv("DEVICELINK_API_PORT", "not-a-number")
	t.Setenv("DEVICELINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("DEVICELINK_LOG_LEVEL", "debug")
	t.Setenv("DEVICELINK_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.URI != "tcp://mqtt.example.com:1883" {
		t.Errorf("MQTT.Broker.URI = %q", cfg.MQTT.Broker.URI)
	}
	if cfg.MQTT.Broker.Port != 1999 {
		t.Errorf("MQTT.Broker.Port = %d, want 1999", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID != "client-7" {
		t.Errorf("MQTT.Broker.ClientID = %q, want client-7", cfg.MQTT.Broker.ClientID)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want unchanged 8080 for unparsable override", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.MQTT.BrokerURI(); got != "tcp://broker.hivemq.com:1883" {
		t.Errorf("default BrokerURI() = %q, want tcp://broker.hivemq.com:1883", got)
	}
	if cfg.MQTT.Auth.Username != "" || cfg.MQTT.Auth.Password != "" {
		t.Error("default MQTT credentials should be empty (anonymous)")
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("default MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.Security.JWT.Secret != "" {
		t.Error("default JWT secret should be empty (auth disabled)")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() = %v, want nil", err)
	}
}
