package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Playout Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Studios   []StudioConfig  `yaml:"studios"`
	Database  DatabaseConfig  `yaml:"database"`
	Jobs      JobsConfig      `yaml:"jobs"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Redis     RedisConfig     `yaml:"redis"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// StudioConfig describes one studio: its playout queue, show styles and settings.
type StudioConfig struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	ShowStyleDir string         `yaml:"show_style_dir"`
	Settings     StudioSettings `yaml:"settings"`
}

// StudioSettings contains the playout rules applied to every playlist in a studio.
type StudioSettings struct {
	// MinimumTakeSpanMS is the minimum time between two takes, in milliseconds.
	// Default: 1000
	MinimumTakeSpanMS int `yaml:"minimum_take_span_ms"`

	// AllowResetOnAir permits resetting a playlist while it is active.
	AllowResetOnAir bool `yaml:"allow_reset_on_air"`

	// DisableAutonext stops automatic takes for parts flagged autonext.
	DisableAutonext bool `yaml:"disable_autonext"`
}

// MinimumTakeSpan returns the minimum take span as a Duration.
func (s StudioSettings) MinimumTakeSpan() time.Duration {
	return time.Duration(s.MinimumTakeSpanMS) * time.Millisecond
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JobsConfig contains dispatch loop supervision settings.
type JobsConfig struct {
	// FreezeTimeout is how long a single job may run before the loop is
	// considered frozen and restarted. Default: 30s
	FreezeTimeout time.Duration `yaml:"freeze_timeout"`

	// HealthCheckInterval is how often the watchdog inspects running jobs.
	// Default: 5s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// RestartDelay is the pause before a crashed loop is restarted. Default: 1s
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// ResultTimeout bounds how long an API request waits for a job result.
	// Default: 10s
	ResultTimeout time.Duration `yaml:"result_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// RedisConfig contains Redis pub/sub settings used for event fan-out.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
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

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// Issuer, when set, must match the "iss" claim of operator tokens.
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PLAYOUT_SECTION_KEY
// For example: PLAYOUT_DATABASE_PATH, PLAYOUT_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyStudioDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/playout.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Jobs: JobsConfig{
			FreezeTimeout:       30 * time.Second,
			HealthCheckInterval: 5 * time.Second,
			RestartDelay:        time.Second,
			MaxRestartAttempts:  0,
			ResultTimeout:       10 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "playout-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "playout.events",
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
	}
}

// applyStudioDefaults fills unset per-studio settings. yaml.v3 zeroes list
// elements, so studio defaults cannot live in defaultConfig.
func applyStudioDefaults(cfg *Config) {
	for i := range cfg.Studios {
		s := &cfg.Studios[i].Settings
		if s.MinimumTakeSpanMS == 0 {
			s.MinimumTakeSpanMS = 1000
		}
		if cfg.Studios[i].Name == "" {
			cfg.Studios[i].Name = cfg.Studios[i].ID
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PLAYOUT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("PLAYOUT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PLAYOUT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PLAYOUT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PLAYOUT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Redis
	if v := os.Getenv("PLAYOUT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PLAYOUT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// API
	if v := os.Getenv("PLAYOUT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PLAYOUT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("PLAYOUT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("PLAYOUT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Studios) == 0 {
		errs = append(errs, "at least one studio is required")
	}
	seen := make(map[string]bool, len(c.Studios))
	for i, s := range c.Studios {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("studios[%d].id is required", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("studios[%d].id %q is duplicated", i, s.ID))
		}
		seen[s.ID] = true
		if s.Settings.MinimumTakeSpanMS < 0 {
			errs = append(errs, fmt.Sprintf("studios[%d].settings.minimum_take_span_ms must not be negative", i))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Jobs.FreezeTimeout <= 0 {
		errs = append(errs, "jobs.freeze_timeout must be positive")
	}
	if c.Jobs.HealthCheckInterval <= 0 {
		errs = append(errs, "jobs.health_check_interval must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Operators can take a live show to air; forged tokens must not be possible.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set PLAYOUT_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Studio returns the configuration for a studio by ID.
func (c *Config) Studio(id string) (StudioConfig, bool) {
	for _, s := range c.Studios {
		if s.ID == id {
			return s, true
		}
	}
	return StudioConfig{}, false
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
