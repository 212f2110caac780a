package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel names accepted by channel.default.
const (
	ChannelLocal = "local"
	ChannelRelay = "relay"
)

// Config is the root configuration structure for SweIoT Link.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Local      LocalConfig      `yaml:"local"`
	Relay      RelayConfig      `yaml:"relay"`
	Management ManagementConfig `yaml:"management"`
	Channel    ChannelConfig    `yaml:"channel"`
	Security   SecurityConfig   `yaml:"security"`
	Console    ConsoleConfig    `yaml:"console"`
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
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the first level of every topic. Defaults to "sweiot".
	TopicPrefix string `yaml:"topic_prefix"`
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

// LocalConfig contains Bluetooth link settings.
type LocalConfig struct {
	Enabled bool `yaml:"enabled"`

	// ScanTimeout is the scan ceiling in seconds.
	ScanTimeout int `yaml:"scan_timeout"`
}

// RelayConfig contains Yggio relay link settings.
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// PollInterval is the uplink poll period in seconds.
	PollInterval int `yaml:"poll_interval"`

	// RequestTimeout bounds each REST call, in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// ManagementConfig contains SweIoT management server settings.
type ManagementConfig struct {
	BaseURL string `yaml:"base_url"`

	// Username and Password log in at startup when both are set.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	RequestTimeout int `yaml:"request_timeout"`
}

// ChannelConfig contains channel coordinator settings.
type ChannelConfig struct {
	// Default is the channel active at startup: "local" or "relay".
	Default string `yaml:"default"`

	// InitDelayMS is the delay before the first init command on the local link.
	InitDelayMS int `yaml:"init_delay_ms"`

	// InitIntervalMS is the spacing between init commands on the local link.
	InitIntervalMS int `yaml:"init_interval_ms"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	// RequireSecure enables signing of outgoing commands for secured devices.
	RequireSecure bool             `yaml:"require_secure"`
	JWT           JWTConfig        `yaml:"jwt"`
	Operators     []OperatorConfig `yaml:"operators"`
}

// JWTConfig contains operator token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// OperatorConfig is an account allowed to use the HTTP API.
type OperatorConfig struct {
	Username string `yaml:"username"`

	// PasswordHash is an Argon2id PHC string.
	PasswordHash string `yaml:"password_hash"`

	// Role is "operator" (default) or "viewer".
	Role string `yaml:"role"`
}

// ConsoleConfig contains interactive console settings.
type ConsoleConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Prompt      string `yaml:"prompt"`
	HistoryFile string `yaml:"history_file"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SWEIOT_SECTION_KEY
// For example: SWEIOT_DATABASE_PATH, SWEIOT_RELAY_PASSWORD
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "SweIoT Link",
		},
		Database: DatabaseConfig{
			Path:        "./data/sweiot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sweiot-link",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "sweiot",
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Local: LocalConfig{
			Enabled:     true,
			ScanTimeout: 600,
		},
		Relay: RelayConfig{
			BaseURL:        "https://yggio3-beta.sensative.net/api",
			PollInterval:   10,
			RequestTimeout: 15,
		},
		Management: ManagementConfig{
			BaseURL:        "https://testsweiot.mithings.org",
			RequestTimeout: 15,
		},
		Channel: ChannelConfig{
			Default:        ChannelLocal,
			InitDelayMS:    1000,
			InitIntervalMS: 500,
		},
		Security: SecurityConfig{
			RequireSecure: true,
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Console: ConsoleConfig{
			Prompt:      "sweiot> ",
			HistoryFile: "",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SWEIOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SWEIOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SWEIOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SWEIOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SWEIOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SWEIOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SWEIOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Relay
	if v := os.Getenv("SWEIOT_RELAY_URL"); v != "" {
		cfg.Relay.BaseURL = v
	}
	if v := os.Getenv("SWEIOT_RELAY_USERNAME"); v != "" {
		cfg.Relay.Username = v
	}
	if v := os.Getenv("SWEIOT_RELAY_PASSWORD"); v != "" {
		cfg.Relay.Password = v
	}

	// Management server
	if v := os.Getenv("SWEIOT_MANAGEMENT_URL"); v != "" {
		cfg.Management.BaseURL = v
	}
	if v := os.Getenv("SWEIOT_MANAGEMENT_USERNAME"); v != "" {
		cfg.Management.Username = v
	}
	if v := os.Getenv("SWEIOT_MANAGEMENT_PASSWORD"); v != "" {
		cfg.Management.Password = v
	}

	// Operator token secret (always override in production)
	if v := os.Getenv("SWEIOT_JWT_SECRET"); v != "" {
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

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Channel.Default {
	case ChannelLocal, ChannelRelay:
	default:
		errs = append(errs, "channel.default must be local or relay")
	}
	if c.Channel.InitDelayMS < 0 || c.Channel.InitIntervalMS < 0 {
		errs = append(errs, "channel init delays must not be negative")
	}

	if c.Local.Enabled && c.Local.ScanTimeout <= 0 {
		errs = append(errs, "local.scan_timeout must be positive")
	}

	if c.Relay.Enabled {
		if c.Relay.BaseURL == "" {
			errs = append(errs, "relay.base_url is required when relay is enabled")
		}
		if c.Relay.PollInterval <= 0 {
			errs = append(errs, "relay.poll_interval must be positive")
		}
	}
	if c.Channel.Default == ChannelRelay && !c.Relay.Enabled {
		errs = append(errs, "channel.default is relay but relay is disabled")
	}

	if c.Security.RequireSecure && c.Management.BaseURL == "" {
		errs = append(errs, "management.base_url is required when security.require_secure is set")
	}

	// The operator token secret guards every write endpoint of the API.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set SWEIOT_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	for i, op := range c.Security.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("security.operators[%d] needs username and password_hash", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetScanTimeout returns the BLE scan ceiling.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.Local.ScanTimeout) * time.Second
}

// GetPollInterval returns the relay poll period.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Relay.PollInterval) * time.Second
}

// GetRelayTimeout returns the relay REST timeout.
func (c *Config) GetRelayTimeout() time.Duration {
	return time.Duration(c.Relay.RequestTimeout) * time.Second
}

// GetManagementTimeout returns the management server REST timeout.
func (c *Config) GetManagementTimeout() time.Duration {
	return time.Duration(c.Management.RequestTimeout) * time.Second
}

// GetInitDelay returns the delay before the first local init command.
func (c *Config) GetInitDelay() time.Duration {
	return time.Duration(c.Channel.InitDelayMS) * time.Millisecond
}

// GetInitInterval returns the spacing between local init commands.
func (c *Config) GetInitInterval() time.Duration {
	return time.Duration(c.Channel.InitIntervalMS) * time.Millisecond
}
