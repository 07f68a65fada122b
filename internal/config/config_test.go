package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Server.RequestTimeout())
	assert.Equal(t, "dataland", cfg.Auth.Issuer)
	assert.Equal(t, 10, cfg.Quota.MaxRequestsForUser)
	assert.Equal(t, "Europe/Berlin", cfg.Quota.Timezone)
	assert.Equal(t, []string{"referencedReports"}, cfg.Datasets.IgnoredFields)
	assert.Equal(t, "postgres", cfg.Specs.Source)
	assert.Equal(t, 256, cfg.Specs.CacheSize)
	assert.InDelta(t, 20.0, cfg.Specs.RatePerSec, 0.001)
	assert.Equal(t, time.Second, cfg.Events.PollInterval())
	assert.Equal(t, 5*time.Minute, cfg.Events.Lease())
	assert.Equal(t, 5, cfg.Events.MaxAttempts)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /var/lib/dataland.db
log:
  level: debug
  format: console
server:
  port: 9090
  cors_origins: ["https://app.example.com"]
quota:
  max_requests_for_user: 3
datasets:
  ignored_fields: [referencedReports, general.fiscalYearEnd]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/dataland.db", cfg.Store.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3, cfg.Quota.MaxRequestsForUser)
	assert.Equal(t, []string{"referencedReports", "general.fiscalYearEnd"}, cfg.Datasets.IgnoredFields)
	// Defaults still apply for unset values
	assert.Equal(t, "Europe/Berlin", cfg.Quota.Timezone)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("DATALAND_STORE_DRIVER", "postgres")
	t.Setenv("DATALAND_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DATALAND_AUTH_JWT_SECRET=from-dotenv\nDATALAND_SERVER_PORT=3000\n"), 0o600))
	t.Setenv("DATALAND_SERVER_PORT", "4000")
	t.Cleanup(func() { _ = os.Unsetenv("DATALAND_AUTH_JWT_SECRET") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
	// Variables already in the environment win over .env.
	assert.Equal(t, 4000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/dataland"
	cfg.Server.Port = 8080
	cfg.Auth.JWTSecret = "secret"
	cfg.Quota.MaxRequestsForUser = 10
	cfg.Quota.Timezone = "Europe/Berlin"
	cfg.Specs.Source = "postgres"
	cfg.Events.MaxAttempts = 5
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{ModeServe, ModeMigrate, ModeConsume, ModeImport} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Auth.JWTSecret = ""
	cfg.Store.DatabaseURL = ""
	cfg.Quota.Timezone = "Mars/Olympus"

	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "quota.timezone")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")
}

func TestValidate_SQLiteWithoutDatabase(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "dataland.db"
	cfg.Store.DatabaseURL = ""
	cfg.Specs.Source = "file"
	cfg.Specs.Dir = "specs"

	assert.NoError(t, cfg.Validate(ModeServe))

	err := cfg.Validate(ModeMigrate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_SpecSources(t *testing.T) {
	cfg := validDefaults()
	cfg.Specs.Source = "http"
	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "specs.base_url is required")

	cfg.Specs.BaseURL = "https://specs.example.com"
	assert.NoError(t, cfg.Validate(ModeServe))

	cfg.Specs.Source = "ftp"
	err = cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "specs.source must be")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
