package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"campuslink/internal/backplane"
	"campuslink/internal/presence"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CAMPUSLINK_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Database  *DatabaseConfig
	Presence  *PresenceConfig
	Backplane *BackplaneConfig
	Auth      *AuthConfig
	API       *APIConfig
	Log       *LogConfig
}

type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// FUNCTIONAL DISCOVERY: Heartbeat and buffer sizes tuned for browser tabs that
// sleep in the background
type WebSocketConfig struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	BufferSize      int
	RateLimit       int
	RateWindow      time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Path           string
	MaxConnections int
	WriteTimeout   time.Duration
	RetryDelay     time.Duration
	AutoMigrate    bool
}

type PresenceConfig struct {
	Mode string
}

type BackplaneConfig struct {
	Driver  string
	NodeID  string
	Channel string
	Redis   *RedisConfig
	NATS    *NATSConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type NATSConfig struct {
	URL           string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Required  bool
}

type APIConfig struct {
	Key string
}

type LogConfig struct {
	Level       string
	Development bool
}

// DefaultConfig returns a single-node setup listening on :8080 with a local
// SQLite directory and no backplane.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageBytes: 64 * 1024,
			BufferSize:      100,
			RateLimit:       100,
			RateWindow:      time.Minute,
		},
		Database: &DatabaseConfig{
			Path:           "./data/campuslink.db",
			MaxConnections: 10,
			WriteTimeout:   30 * time.Second,
			RetryDelay:     5 * time.Second,
			AutoMigrate:    true,
		},
		Presence: &PresenceConfig{
			Mode: string(presence.ModeFull),
		},
		Backplane: &BackplaneConfig{
			Driver:  backplane.DriverNone,
			Channel: "campuslink.events",
			Redis: &RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
			NATS: &NATSConfig{
				URL:           "nats://localhost:4222",
				ReconnectWait: 2 * time.Second,
				Timeout:       5 * time.Second,
			},
		},
		Auth: &AuthConfig{},
		API:  &APIConfig{},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil || c.Presence == nil ||
		c.Backplane == nil || c.Auth == nil || c.API == nil || c.Log == nil {
		return fmt.Errorf("every configuration section is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	// TECHNICAL DISCOVERY: A read deadline shorter than the ping interval drops
	// every idle but healthy client
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.RateLimit > 0 && c.WebSocket.RateWindow <= 0 {
		return fmt.Errorf("WebSocket rate window must be positive when rate limiting")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.WriteTimeout <= 0 {
		return fmt.Errorf("database write timeout must be positive")
	}
	if c.Database.RetryDelay < 0 {
		return fmt.Errorf("database retry delay cannot be negative")
	}

	if _, err := presence.ParseMode(c.Presence.Mode); err != nil {
		return err
	}

	switch c.Backplane.Driver {
	case "", backplane.DriverNone:
	case backplane.DriverRedis:
		if c.Backplane.Redis == nil || c.Backplane.Redis.Addr == "" {
			return fmt.Errorf("redis backplane requires an address")
		}
	case backplane.DriverNATS:
		if c.Backplane.NATS == nil || c.Backplane.NATS.URL == "" {
			return fmt.Errorf("nats backplane requires a URL")
		}
	default:
		return fmt.Errorf("%w: %q", backplane.ErrUnknownDriver, c.Backplane.Driver)
	}
	if c.Backplane.Driver != "" && c.Backplane.Driver != backplane.DriverNone && c.Backplane.Channel == "" {
		return fmt.Errorf("backplane channel cannot be empty")
	}

	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.required needs auth.jwt_secret")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return c.HTTP.Host + ":" + strconv.Itoa(c.HTTP.Port)
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Unparseable values are ignored and the previous value is kept
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("HTTP_HOST", &config.HTTP.Host)
	envInt("HTTP_PORT", &config.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	if v, ok := lookup("WEBSOCKET_MAX_MESSAGE_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageBytes = n
		}
	}
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	envInt("WEBSOCKET_RATE_LIMIT", &config.WebSocket.RateLimit)
	envDuration("WEBSOCKET_RATE_WINDOW", &config.WebSocket.RateWindow)
	if v, ok := lookup("WEBSOCKET_ALLOWED_ORIGINS"); ok {
		config.WebSocket.AllowedOrigins = splitList(v)
	}

	envString("DATABASE_PATH", &config.Database.Path)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	envDuration("DATABASE_WRITE_TIMEOUT", &config.Database.WriteTimeout)
	envDuration("DATABASE_RETRY_DELAY", &config.Database.RetryDelay)
	envBool("DATABASE_AUTO_MIGRATE", &config.Database.AutoMigrate)

	envString("PRESENCE_MODE", &config.Presence.Mode)

	envString("BACKPLANE_DRIVER", &config.Backplane.Driver)
	envString("BACKPLANE_NODE_ID", &config.Backplane.NodeID)
	envString("BACKPLANE_CHANNEL", &config.Backplane.Channel)
	envString("REDIS_ADDR", &config.Backplane.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Backplane.Redis.Password)
	envInt("REDIS_DB", &config.Backplane.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.Backplane.Redis.PoolSize)
	envString("NATS_URL", &config.Backplane.NATS.URL)
	envDuration("NATS_RECONNECT_WAIT", &config.Backplane.NATS.ReconnectWait)
	envDuration("NATS_TIMEOUT", &config.Backplane.NATS.Timeout)

	envString("JWT_SECRET", &config.Auth.JWTSecret)
	envBool("AUTH_REQUIRED", &config.Auth.Required)
	envString("API_KEY", &config.API.Key)

	envString("LOG_LEVEL", &config.Log.Level)
	envBool("LOG_DEVELOPMENT", &config.Log.Development)
}

func lookup(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + name)
	return v, v != ""
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v, ok := lookup(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := lookup(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile reads a JSON or YAML file (chosen by extension) on top of
// the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// A missing or broken file is an error rather than a silent fallback
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(config); err != nil {
		return fmt.Errorf("invalid value in %s: %w", path, err)
	}
	return nil
}
