package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// Required fields are validated at startup so misconfiguration fails fast.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Revolut API configuration
	ClientID          string
	PrivateKeyPath    string
	JWTIssuer         string
	Sandbox           bool
	TokenFile         string
	ReferenceCurrency string
	TransactionCount  int

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Export schedule configuration
	ExportInterval time.Duration
	ExportWindow   time.Duration
}

// LoadDotEnv loads a .env file into the environment when one exists.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

// Load reads configuration from a .env file and environment variables and
// validates all required fields. Every problem is reported, not just the first.
func Load() (*Config, error) {
	var errs []error

	if err := LoadDotEnv(); err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{}

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Revolut API configuration
	cfg.ClientID = os.Getenv("CLIENT_ID")
	if cfg.ClientID == "" {
		errs = append(errs, fmt.Errorf("CLIENT_ID is required"))
	}
	cfg.PrivateKeyPath = os.Getenv("SSL_PRIVATE_PATH")
	if cfg.PrivateKeyPath == "" {
		errs = append(errs, fmt.Errorf("SSL_PRIVATE_PATH is required"))
	}
	cfg.JWTIssuer = getEnvOrDefault("JWT_ISSUER", "127.0.0.1")
	cfg.TokenFile = getEnvOrDefault("TOKEN_FILE", "access-token.json")
	cfg.ReferenceCurrency = strings.ToUpper(getEnvOrDefault("REFERENCE_CURRENCY", "GBP"))
	if len(cfg.ReferenceCurrency) != 3 {
		errs = append(errs, fmt.Errorf("REFERENCE_CURRENCY must be a three letter currency code, got %q", cfg.ReferenceCurrency))
	}

	sandbox, err := parseBool("REVOLUT_SANDBOX", false)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Sandbox = sandbox

	count, err := parseInt("TRANSACTION_COUNT", 1000)
	if err != nil {
		errs = append(errs, err)
	} else if count < 1 || count > 1000 {
		errs = append(errs, fmt.Errorf("TRANSACTION_COUNT must be between 1 and 1000, got %d", count))
	}
	cfg.TransactionCount = count

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "revolut-feed-export")

	// Export schedule configuration
	interval, err := parseDuration("EXPORT_INTERVAL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ExportInterval = interval
	}

	window, err := parseDuration("EXPORT_WINDOW", "720h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ExportWindow = window
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks the settings the worker and server need.
// It is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ClientID == "" {
		errs = append(errs, fmt.Errorf("ClientID is required"))
	}

	if c.PrivateKeyPath == "" {
		errs = append(errs, fmt.Errorf("PrivateKeyPath is required"))
	}

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ExportInterval < time.Minute {
		errs = append(errs, fmt.Errorf("ExportInterval must be at least 1 minute"))
	}

	if c.ExportWindow < 24*time.Hour {
		errs = append(errs, fmt.Errorf("ExportWindow must be at least 24 hours"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
