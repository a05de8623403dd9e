package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration. It is built once at startup
// and passed by reference; nothing mutates it afterwards.
type Config struct {
	Environment string
	ServerPort  int
	LogLevel    string

	Database DatabaseConfig

	RedisURL string
	CacheTTL time.Duration

	KafkaBrokers []string

	// Event publish retry policy: a failed publish is retried up to
	// EventRetryAttempts times, EventRetryBackoff apart, then dead-lettered.
	EventRetryAttempts int
	EventRetryBackoff  time.Duration

	ViewRefreshInterval time.Duration
	MaterializedViews   []string

	// DefaultOrgCode identifies the system default organization used by the
	// cross-org admin transfer policy.
	DefaultOrgCode string

	// OTLPEndpoint enables trace export when set; empty means tracing is a
	// no-op.
	OTLPEndpoint string
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("POSTGRES_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}

	cacheTTL, err := strconv.Atoi(getEnv("CACHE_TTL_SECONDS", "86400"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL_SECONDS: %w", err)
	}

	retryAttempts, err := strconv.Atoi(getEnv("EVENT_RETRY_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_RETRY_ATTEMPTS: %w", err)
	}

	retryBackoffMs, err := strconv.Atoi(getEnv("EVENT_RETRY_BACKOFF_MS", "600000"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_RETRY_BACKOFF_MS: %w", err)
	}

	refreshIntervalMs, err := strconv.Atoi(getEnv("VIEW_REFRESH_INTERVAL_MS", "540000"))
	if err != nil {
		return nil, fmt.Errorf("invalid VIEW_REFRESH_INTERVAL_MS: %w", err)
	}
	if refreshIntervalMs <= 0 {
		return nil, fmt.Errorf("invalid VIEW_REFRESH_INTERVAL_MS: must be positive, got %d", refreshIntervalMs)
	}

	defaultOrgCode := getEnv("DEFAULT_ORGANISATION_CODE", "")
	if defaultOrgCode == "" {
		return nil, fmt.Errorf("DEFAULT_ORGANISATION_CODE is required")
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("POSTGRES_USER", "identsync"),
			Password:        getEnv("POSTGRES_PASSWORD", "dev"),
			Database:        getEnv("POSTGRES_DB", "identsync"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),
		CacheTTL:            time.Duration(cacheTTL) * time.Second,
		KafkaBrokers:        parseCSVEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		EventRetryAttempts:  retryAttempts,
		EventRetryBackoff:   time.Duration(retryBackoffMs) * time.Millisecond,
		ViewRefreshInterval: time.Duration(refreshIntervalMs) * time.Millisecond,
		MaterializedViews:   parseCSVEnv("MATERIALIZED_VIEWS", []string{"user_directory_view", "org_membership_view"}),
		DefaultOrgCode:      defaultOrgCode,
		OTLPEndpoint:        getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
