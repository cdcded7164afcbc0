// Package config loads cloudscope configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/cloudscope/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Inventory InventoryConfig
	OpenAI    OpenAIConfig

	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// InventoryConfig holds resource inventory configuration
type InventoryConfig struct {
	// CacheTTL is how long a stored snapshot satisfies reads
	CacheTTL time.Duration

	// Retention is how long snapshots are kept before pruning
	Retention time.Duration

	// ConnectTimeout and ReadTimeout bound each provider API call
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// OpenAIConfig holds enrichment/assistant configuration
type OpenAIConfig struct {
	APIKey        string
	Model         string
	EnrichmentTTL time.Duration
	Timeout       time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	OTel           observability.OTelConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CLOUDSCOPE_HOST", "0.0.0.0"),
			Port:            getEnv("CLOUDSCOPE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("CLOUDSCOPE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CLOUDSCOPE_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("CLOUDSCOPE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CLOUDSCOPE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("CLOUDSCOPE_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("CLOUDSCOPE_POSTGRES_URL", "postgres://localhost/cloudscope?sslmode=disable"),
			MaxConns: getEnvInt("CLOUDSCOPE_POSTGRES_MAX_CONNS", 25),
			MinConns: getEnvInt("CLOUDSCOPE_POSTGRES_MIN_CONNS", 5),
			Timeout:  getEnvDuration("CLOUDSCOPE_POSTGRES_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("CLOUDSCOPE_REDIS_URL", "localhost:6379"),
			Password: getEnv("CLOUDSCOPE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("CLOUDSCOPE_REDIS_DB", 0),
			PoolSize: getEnvInt("CLOUDSCOPE_REDIS_POOL_SIZE", 10),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("CLOUDSCOPE_JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("CLOUDSCOPE_TOKEN_TTL", 60*time.Minute),
		},
		Inventory: InventoryConfig{
			CacheTTL:       getEnvDuration("CLOUDSCOPE_INVENTORY_CACHE_TTL", 30*time.Minute),
			Retention:      getEnvDuration("CLOUDSCOPE_INVENTORY_RETENTION", 7*24*time.Hour),
			ConnectTimeout: getEnvDuration("CLOUDSCOPE_PROVIDER_CONNECT_TIMEOUT", 3*time.Second),
			ReadTimeout:    getEnvDuration("CLOUDSCOPE_PROVIDER_READ_TIMEOUT", 5*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:        getEnv("CLOUDSCOPE_OPENAI_API_KEY", ""),
			Model:         getEnv("CLOUDSCOPE_OPENAI_MODEL", "gpt-4o-mini"),
			EnrichmentTTL: getEnvDuration("CLOUDSCOPE_ENRICHMENT_TTL", 24*time.Hour),
			Timeout:       getEnvDuration("CLOUDSCOPE_OPENAI_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("CLOUDSCOPE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("CLOUDSCOPE_METRICS_ENABLED", true),
			OTel: observability.OTelConfig{
				Enabled:        getEnvBool("CLOUDSCOPE_OTEL_ENABLED", false),
				Endpoint:       getEnv("CLOUDSCOPE_OTEL_ENDPOINT", "localhost:4317"),
				ServiceName:    getEnv("CLOUDSCOPE_OTEL_SERVICE_NAME", "cloudscope"),
				ServiceVersion: getEnv("CLOUDSCOPE_OTEL_SERVICE_VERSION", "dev"),
				Insecure:       getEnvBool("CLOUDSCOPE_OTEL_INSECURE", true),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Inventory.CacheTTL <= 0 {
		return fmt.Errorf("inventory cache TTL must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
