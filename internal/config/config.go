package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"schoolchat/internal/store"
)

// Config is the full runtime configuration: defaults, overridden by
// SCHOOLCHAT_* environment variables, validated before any component
// starts.
type Config struct {
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Store     *StoreConfig
	Auth      *AuthConfig
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type WebSocketConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	SendBuffer   int
}

type StoreConfig struct {
	Driver          string
	DSN             string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			ReadLimit:    64 * 1024,
			SendBuffer:   256,
		},
		Store: &StoreConfig{
			Driver:          store.DriverSQLite,
			DSN:             "./schoolchat.db",
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Auth: &AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
	}
}

// LoadFromEnv returns the defaults with environment overrides applied.
// The JWT secret has no default; deployment must set it.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("SCHOOLCHAT_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("SCHOOLCHAT_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	envDuration("SCHOOLCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	envDuration("SCHOOLCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)

	envDuration("SCHOOLCHAT_WS_PING_INTERVAL", &cfg.WebSocket.PingInterval)
	envDuration("SCHOOLCHAT_WS_READ_TIMEOUT", &cfg.WebSocket.ReadTimeout)
	envDuration("SCHOOLCHAT_WS_WRITE_TIMEOUT", &cfg.WebSocket.WriteTimeout)
	if limit := os.Getenv("SCHOOLCHAT_WS_READ_LIMIT"); limit != "" {
		if n, err := strconv.ParseInt(limit, 10, 64); err == nil {
			cfg.WebSocket.ReadLimit = n
		}
	}
	if buf := os.Getenv("SCHOOLCHAT_WS_SEND_BUFFER"); buf != "" {
		if n, err := strconv.Atoi(buf); err == nil {
			cfg.WebSocket.SendBuffer = n
		}
	}

	if driver := os.Getenv("SCHOOLCHAT_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if dsn := os.Getenv("SCHOOLCHAT_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if conns := os.Getenv("SCHOOLCHAT_STORE_MAX_CONNECTIONS"); conns != "" {
		if n, err := strconv.Atoi(conns); err == nil {
			cfg.Store.MaxConnections = n
		}
	}
	envDuration("SCHOOLCHAT_STORE_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime)
	envDuration("SCHOOLCHAT_STORE_CONN_MAX_IDLE_TIME", &cfg.Store.ConnMaxIdleTime)

	if secret := os.Getenv("SCHOOLCHAT_JWT_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}
	envDuration("SCHOOLCHAT_TOKEN_TTL", &cfg.Auth.TokenTTL)

	return cfg
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Store == nil || c.Auth == nil {
		return fmt.Errorf("all configuration sections are required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.WebSocket.ReadLimit <= 0 {
		return fmt.Errorf("websocket read limit must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.Store.Driver != store.DriverSQLite && c.Store.Driver != store.DriverPostgres {
		return fmt.Errorf("store driver must be %q or %q", store.DriverSQLite, store.DriverPostgres)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store DSN cannot be empty")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("JWT secret is required (set SCHOOLCHAT_JWT_SECRET)")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	return nil
}
