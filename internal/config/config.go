package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// TenantAPIEnabled mounts the unauthenticated content-samples API
	TenantAPIEnabled bool
	// TrustProxyHeaders takes the client address from X-Forwarded-For
	TrustProxyHeaders bool
}

// DatabaseConfig holds connection pool configuration.
// DATABASE_URL is not part of it; the pool reads it on first use.
type DatabaseConfig struct {
	MaxConns          int
	MinConns          int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	TenantSetting     string
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel        string
	LogFormat       string
	OTELEnabled     bool
	MetricsEnabled  bool
	ServiceName     string
	ServiceVersion  string
	TraceSampleRate float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),

			TenantAPIEnabled:  parseBool("TENANT_API_ENABLED", false),
			TrustProxyHeaders: parseBool("TRUST_PROXY_HEADERS", false),
		},
		Database: DatabaseConfig{
			MaxConns:          parseInt("DB_MAX_CONNS", 10),
			MinConns:          parseInt("DB_MIN_CONNS", 0),
			ConnMaxLifetime:   parseDuration("DB_CONN_MAX_LIFETIME", "30m"),
			ConnMaxIdleTime:   parseDuration("DB_CONN_MAX_IDLE_TIME", "5m"),
			HealthCheckPeriod: parseDuration("DB_HEALTH_CHECK_PERIOD", "1m"),
			ConnectTimeout:    parseDuration("DB_CONNECT_TIMEOUT", "5s"),
			TenantSetting:     getEnv("DB_TENANT_SETTING", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			LogFormat:       getEnv("LOG_FORMAT", "json"),
			OTELEnabled:     parseBool("OTEL_ENABLED", false),
			MetricsEnabled:  parseBool("OTEL_METRICS_ENABLED", true),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "thundertext-gateway"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			TraceSampleRate: parseFloat("OTEL_TRACES_SAMPLE_RATE", 1.0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Database.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.Database.MaxConns))
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.Database.MinConns))
	}
	if strings.ContainsAny(c.Database.TenantSetting, " ;'\"") {
		errs = append(errs, fmt.Errorf("DB_TENANT_SETTING is not a valid setting name: %q", c.Database.TenantSetting))
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Observability.LogFormat))
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("RATELIMIT_RPS must be positive"))
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("RATELIMIT_BURST must be at least 1"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address of the HTTP server
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
