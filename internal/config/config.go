package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Listener
	Host           string `env:"MOCKTIDE_HOST" default:"127.0.0.1"`
	Port           int    `env:"MOCKTIDE_PORT" default:"6020"`
	MaxConnections int    `env:"MAX_CONNECTIONS" default:"10"`

	// Report
	ReportPath string `env:"REPORT_PATH" default:"result.xml"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Accept retry
	AcceptBackoffUnit time.Duration `env:"ACCEPT_BACKOFF_UNIT" default:"1s"`
	AcceptBackoffMax  time.Duration `env:"ACCEPT_BACKOFF_MAX" default:"64s"`

	// Interpreter
	RecvFailurePolicy string        `env:"RECV_FAILURE_POLICY" default:"continue"`
	MaxBufferBytes    int           `env:"MAX_BUFFER_BYTES" default:"0"`
	ConnIdleTimeout   time.Duration `env:"CONN_IDLE_TIMEOUT" default:"0"`
	ShutdownGrace     time.Duration `env:"SHUTDOWN_GRACE" default:"10s"`

	// Admin API
	AdminAddr      string  `env:"ADMIN_ADDR"`
	AdminJWTSecret string  `env:"ADMIN_JWT_SECRET"`
	AdminRateLimit float64 `env:"ADMIN_RATE_LIMIT" default:"20"`

	// Result sinks
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`
}

// LoadConfig loads configuration from environment variables, reading
// envFile first when it exists. A missing file is not an error.
func LoadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		// system env vars still apply
		slog.Debug("env_file_not_loaded", "path", envFile, "error", err)
	}

	config := &Config{}

	// Listener
	if err := loadEnvString(&config.Host, "MOCKTIDE_HOST", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.Port, "MOCKTIDE_PORT", 6020); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxConnections, "MAX_CONNECTIONS", 10); err != nil {
		return nil, err
	}

	// Report
	if err := loadEnvString(&config.ReportPath, "REPORT_PATH", "result.xml"); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}

	// Accept retry
	if err := loadEnvDuration(&config.AcceptBackoffUnit, "ACCEPT_BACKOFF_UNIT", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.AcceptBackoffMax, "ACCEPT_BACKOFF_MAX", 64*time.Second); err != nil {
		return nil, err
	}

	// Interpreter
	if err := loadEnvString(&config.RecvFailurePolicy, "RECV_FAILURE_POLICY", "continue"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxBufferBytes, "MAX_BUFFER_BYTES", 0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ConnIdleTimeout, "CONN_IDLE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ShutdownGrace, "SHUTDOWN_GRACE", 10*time.Second); err != nil {
		return nil, err
	}

	// Admin API
	if err := loadEnvString(&config.AdminAddr, "ADMIN_ADDR", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdminJWTSecret, "ADMIN_JWT_SECRET", ""); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.AdminRateLimit, "ADMIN_RATE_LIMIT", 20); err != nil {
		return nil, err
	}

	// Result sinks
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.Host == "" {
		errors = append(errors, "MOCKTIDE_HOST must not be empty")
	}
	// 0 asks the OS for an ephemeral port
	if c.Port < 0 || c.Port > 65535 {
		errors = append(errors, "MOCKTIDE_PORT must be between 0 and 65535")
	}
	if c.MaxConnections < 1 {
		errors = append(errors, "MAX_CONNECTIONS must be at least 1")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.AcceptBackoffUnit <= 0 {
		errors = append(errors, "ACCEPT_BACKOFF_UNIT must be positive")
	}
	if c.AcceptBackoffMax < c.AcceptBackoffUnit {
		errors = append(errors, "ACCEPT_BACKOFF_MAX must not be smaller than ACCEPT_BACKOFF_UNIT")
	}

	validPolicies := []string{"continue", "abort"}
	if !contains(validPolicies, strings.ToLower(c.RecvFailurePolicy)) {
		errors = append(errors, fmt.Sprintf("RECV_FAILURE_POLICY must be one of: %s", strings.Join(validPolicies, ", ")))
	}
	if c.MaxBufferBytes < 0 {
		errors = append(errors, "MAX_BUFFER_BYTES must not be negative")
	}
	if c.ConnIdleTimeout < 0 {
		errors = append(errors, "CONN_IDLE_TIMEOUT must not be negative")
	}
	if c.ShutdownGrace < 0 {
		errors = append(errors, "SHUTDOWN_GRACE must not be negative")
	}

	if c.AdminRateLimit <= 0 {
		errors = append(errors, "ADMIN_RATE_LIMIT must be positive")
	}
	// same rule as any HS256 signing secret
	if c.AdminJWTSecret != "" && len(c.AdminJWTSecret) < 32 {
		errors = append(errors, "ADMIN_JWT_SECRET should be at least 32 characters long")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// ListenAddr returns the host:port the mock server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AdminEnabled reports whether the admin HTTP API should be started.
func (c *Config) AdminEnabled() bool {
	return c.AdminAddr != ""
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
