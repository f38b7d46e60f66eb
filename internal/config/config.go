// Package config provides configuration management for the githook runner.
// It loads configuration from environment variables with sensible defaults
// and validates it so the application starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: When set, log output goes to this file instead of stdout
//   - TLS_CERT / TLS_KEY: Optional TLS certificate pair
//
// Webhook ingestion:
//   - WEBHOOK_SECRET: Shared HMAC secret for signature verification (required)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./githook_runner.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL connection settings
//
// Processing engine:
//   - ENGINE_WORKERS: Concurrent event processors (default: 4)
//   - ENGINE_QUEUE_SIZE: Buffered backlog of unprocessed events (default: 256)
//   - EXECUTOR_TIMEOUT: Per-handler invocation timeout (default: 30s)
//   - RECOVERY_SWEEP_AFTER: Age after which a pending execution is re-driven
//     by the recovery sweep (default: 5m)
//
// Notifications:
//   - NOTIFY_SINK: "log" or "webhook" (default: log)
//   - NOTIFY_WEBHOOK_URL: Destination URL for the webhook sink
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the githook runner.
// All fields correspond to environment variables that can be set to
// override the default values. Load the configuration with Load() and
// validate it with Validate() before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)
	TLSCert  string // TLS certificate file path (optional)
	TLSKey   string // TLS key file path (optional)

	// Webhook ingestion
	WebhookSecret string // Shared secret for HMAC-SHA256 signature verification

	// Database configuration
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string // SQLite database file path
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Processing engine
	EngineWorkers      int           // Concurrent event processors
	EngineQueueSize    int           // Buffered backlog of unprocessed events
	ExecutorTimeout    time.Duration // Per-handler invocation timeout
	RecoverySweepAfter time.Duration // Age before a pending execution is re-driven

	// Notifications
	NotifySink       string // "log" or "webhook"
	NotifyWebhookURL string // Destination for the webhook sink
}

// Load creates a new Config instance with values loaded from environment
// variables. Unset variables fall back to their defaults. Load does not
// validate; call Validate() on the returned Config before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		TLSCert:  getEnv("TLS_CERT", ""),
		TLSKey:   getEnv("TLS_KEY", ""),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./githook_runner.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "githook_runner"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		EngineWorkers:      getIntEnv("ENGINE_WORKERS", 4),
		EngineQueueSize:    getIntEnv("ENGINE_QUEUE_SIZE", 256),
		ExecutorTimeout:    getDurationEnv("EXECUTOR_TIMEOUT", 30*time.Second),
		RecoverySweepAfter: getDurationEnv("RECOVERY_SWEEP_AFTER", 5*time.Minute),

		NotifySink:       getEnv("NOTIFY_SINK", "log"),
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid. The application should call
// this after loading configuration and before starting.
func (c *Config) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET environment variable is required")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.EngineWorkers < 1 {
		return fmt.Errorf("ENGINE_WORKERS must be a positive number")
	}

	if c.EngineQueueSize < 1 {
		return fmt.Errorf("ENGINE_QUEUE_SIZE must be a positive number")
	}

	if c.ExecutorTimeout <= 0 {
		return fmt.Errorf("EXECUTOR_TIMEOUT must be a positive duration")
	}

	if c.RecoverySweepAfter <= 0 {
		return fmt.Errorf("RECOVERY_SWEEP_AFTER must be a positive duration")
	}

	switch c.NotifySink {
	case "log":
	case "webhook":
		if c.NotifyWebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required when NOTIFY_SINK is 'webhook'")
		}
	default:
		return fmt.Errorf("NOTIFY_SINK must be 'log' or 'webhook'")
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}

	return nil
}
