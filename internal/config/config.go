package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // quota.timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Quota     QuotaConfig     `yaml:"quota" mapstructure:"quota"`
	Datasets  DatasetsConfig  `yaml:"datasets" mapstructure:"datasets"`
	Specs     SpecsConfig     `yaml:"specs" mapstructure:"specs"`
	Companies CompaniesConfig `yaml:"companies" mapstructure:"companies"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
}

// StoreConfig configures the database backend. Driver selects the data
// point store; requests, events and the company directory always live in
// Postgres when DatabaseURL is set.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// RequestTimeout returns the per request deadline.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AuthConfig holds the bearer token settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
}

// QuotaConfig limits requests of non-premium users per local day.
type QuotaConfig struct {
	MaxRequestsForUser int    `yaml:"max_requests_for_user" mapstructure:"max_requests_for_user"`
	Timezone           string `yaml:"timezone" mapstructure:"timezone"`
}

// DatasetsConfig tunes dataset assembly.
type DatasetsConfig struct {
	// IgnoredFields are data point types that do not count as answered data.
	IgnoredFields []string `yaml:"ignored_fields" mapstructure:"ignored_fields"`
	Workers       int      `yaml:"workers" mapstructure:"workers"`
}

// SpecsConfig selects where framework specifications come from.
type SpecsConfig struct {
	Source     string  `yaml:"source" mapstructure:"source"`
	Dir        string  `yaml:"dir" mapstructure:"dir"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
	CacheSize  int     `yaml:"cache_size" mapstructure:"cache_size"`
}

// CompaniesConfig seeds the in-memory company directory used without
// Postgres.
type CompaniesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// EventsConfig tunes the event consumer.
type EventsConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`
	Workers        int `yaml:"workers" mapstructure:"workers"`
	MaxAttempts    int `yaml:"max_attempts" mapstructure:"max_attempts"`
	LeaseSecs      int `yaml:"lease_secs" mapstructure:"lease_secs"`
	MaxRequeues    int `yaml:"max_requeues" mapstructure:"max_requeues"`
}

// PollInterval returns the consumer poll interval.
func (e EventsConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMS) * time.Millisecond
}

// Lease returns how long a claimed event stays invisible.
func (e EventsConfig) Lease() time.Duration {
	return time.Duration(e.LeaseSecs) * time.Second
}

// RetryConfig configures backoff for outbound calls and redeliveries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// CircuitConfig configures the circuit breaker of the spec client.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DATALAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "dataland.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "dataland")
	v.SetDefault("quota.max_requests_for_user", 10)
	v.SetDefault("quota.timezone", "Europe/Berlin")
	v.SetDefault("datasets.ignored_fields", []string{"referencedReports"})
	v.SetDefault("datasets.workers", 8)
	v.SetDefault("specs.source", "postgres")
	v.SetDefault("specs.dir", "specs")
	v.SetDefault("specs.base_url", "")
	v.SetDefault("specs.rate_per_sec", 20.0)
	v.SetDefault("specs.burst", 5)
	v.SetDefault("specs.cache_size", 256)
	v.SetDefault("companies.file", "")
	v.SetDefault("events.poll_interval_ms", 1000)
	v.SetDefault("events.batch_size", 50)
	v.SetDefault("events.workers", 4)
	v.SetDefault("events.max_attempts", 5)
	v.SetDefault("events.lease_secs", 300)
	v.SetDefault("events.max_requeues", 3)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Modes accepted by Validate.
const (
	ModeServe   = "serve"
	ModeMigrate = "migrate"
	ModeConsume = "consume"
	ModeImport  = "import"
)

// Validate checks the values the given command needs.
func (c *Config) Validate(mode string) error {
	var errs []string
	needsDB := false

	switch mode {
	case ModeServe:
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth.jwt_secret is required")
		}
		if c.Quota.MaxRequestsForUser < 1 {
			errs = append(errs, "quota.max_requests_for_user must be >= 1")
		}
		if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
			errs = append(errs, "quota.timezone is not a known time zone: "+c.Quota.Timezone)
		}
	case ModeMigrate, ModeConsume, ModeImport:
		needsDB = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		needsDB = true
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if needsDB && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch c.Specs.Source {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "specs.source postgres requires store.database_url")
		}
	case "file":
		if c.Specs.Dir == "" {
			errs = append(errs, "specs.dir is required for the file source")
		}
	case "http":
		if c.Specs.BaseURL == "" {
			errs = append(errs, "specs.base_url is required for the http source")
		}
	default:
		errs = append(errs, "specs.source must be postgres, file or http")
	}

	if c.Events.MaxAttempts < 1 {
		errs = append(errs, "events.max_attempts must be >= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
