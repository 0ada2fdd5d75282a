package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	cleanupEnv(t)
	t.Setenv("CLIENT_ID", "client-123")
	t.Setenv("SSL_PRIVATE_PATH", "/keys/private.pem")
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "client-123", cfg.ClientID)
	assert.Equal(t, "/keys/private.pem", cfg.PrivateKeyPath)
	assert.Equal(t, "GBP", cfg.ReferenceCurrency) // Default
	assert.Equal(t, "127.0.0.1", cfg.JWTIssuer)   // Default
	assert.Equal(t, "access-token.json", cfg.TokenFile)
	assert.False(t, cfg.Sandbox)
	assert.Equal(t, 1000, cfg.TransactionCount)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "revolut-feed-export", cfg.TemporalTaskQueue)
	assert.Equal(t, 24*time.Hour, cfg.ExportInterval)
	assert.Equal(t, 720*time.Hour, cfg.ExportWindow)
}

func TestLoad_MissingRequired(t *testing.T) {
	cleanupEnv(t)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "CLIENT_ID is required")
	assert.Contains(t, err.Error(), "SSL_PRIVATE_PATH is required")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"EXPORT_INTERVAL", "daily", "invalid duration"},
		{"REVOLUT_SANDBOX", "maybe", "invalid boolean"},
		{"TRANSACTION_COUNT", "lots", "invalid integer"},
		{"TRANSACTION_COUNT", "5000", "between 1 and 1000"},
		{"REFERENCE_CURRENCY", "POUND", "three letter currency code"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("REFERENCE_CURRENCY", "eur")
	t.Setenv("REVOLUT_SANDBOX", "true")
	t.Setenv("TOKEN_FILE", "/tmp/token.json")
	t.Setenv("TRANSACTION_COUNT", "250")
	t.Setenv("SERVER_ADDR", ":9091")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("NATS_URL", "nats://nats.example.com:4222")
	t.Setenv("EXPORT_INTERVAL", "6h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "EUR", cfg.ReferenceCurrency)
	assert.True(t, cfg.Sandbox)
	assert.Equal(t, "/tmp/token.json", cfg.TokenFile)
	assert.Equal(t, 250, cfg.TransactionCount)
	assert.Equal(t, ":9091", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost/ledger", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, 6*time.Hour, cfg.ExportInterval)
}

func TestLoadDotEnv(t *testing.T) {
	cleanupEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CLIENT_ID=from-dotenv\nREFERENCE_CURRENCY=USD\n"), 0o600))
	t.Setenv("REFERENCE_CURRENCY", "GBP")
	os.Unsetenv("CLIENT_ID")

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("CLIENT_ID") })

	assert.Equal(t, "from-dotenv", os.Getenv("CLIENT_ID"))
	assert.Equal(t, "GBP", os.Getenv("REFERENCE_CURRENCY"), "existing variables win")

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func validConfig() *Config {
	return &Config{
		ClientID:          "client-123",
		PrivateKeyPath:    "/keys/private.pem",
		DatabaseURL:       "postgres://localhost/test",
		TemporalHost:      "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "revolut-feed-export",
		ExportInterval:    24 * time.Hour,
		ExportWindow:      720 * time.Hour,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL is required")
}

func TestValidate_TooShortSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.ExportInterval = 30 * time.Second
	cfg.ExportWindow = time.Hour

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ExportInterval must be at least 1 minute")
	assert.Contains(t, err.Error(), "ExportWindow must be at least 24 hours")
}

func TestMustLoad_Panics(t *testing.T) {
	cleanupEnv(t)

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	setRequired(t)

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears the variables Load reads for the duration of the test.
func cleanupEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLIENT_ID", "SSL_PRIVATE_PATH", "JWT_ISSUER", "TOKEN_FILE",
		"REFERENCE_CURRENCY", "REVOLUT_SANDBOX", "TRANSACTION_COUNT",
		"SERVER_ADDR", "METRICS_ADDR", "LOG_LEVEL", "DATABASE_URL", "NATS_URL",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
		"EXPORT_INTERVAL", "EXPORT_WINDOW",
	} {
		t.Setenv(key, "")
	}
}
