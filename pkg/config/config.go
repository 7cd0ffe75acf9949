// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the complete service configuration.
type Config struct {
	HTTPAddr        string        `env:"LEDGER_HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"LEDGER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"LEDGER_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"LEDGER_SHUTDOWN_TIMEOUT,default=10s"`

	Store                string        `env:"LEDGER_STORE,default=memory"`
	PostgresDSN          string        `env:"LEDGER_POSTGRES_DSN"`
	PostgresMaxOpenConns int           `env:"LEDGER_POSTGRES_MAX_OPEN_CONNS,default=25"`
	PostgresConnLifetime time.Duration `env:"LEDGER_POSTGRES_CONN_MAX_LIFETIME,default=30m"`
	Seed                 bool          `env:"LEDGER_SEED,default=true"`

	CacheEnabled    bool          `env:"LEDGER_CACHE_ENABLED,default=true"`
	CacheTTL        time.Duration `env:"LEDGER_CACHE_TTL,default=5s"`
	CacheMaxEntries int           `env:"LEDGER_CACHE_MAX_ENTRIES,default=1000"`
	RedisAddr       string        `env:"LEDGER_REDIS_ADDR"`
	RedisPassword   string        `env:"LEDGER_REDIS_PASSWORD"`
	RedisDB         int           `env:"LEDGER_REDIS_DB,default=0"`

	PostingTimeout time.Duration `env:"LEDGER_POSTING_TIMEOUT,default=5s"`

	JWTSecret string `env:"LEDGER_JWT_SECRET"`

	MetricsNamespace string `env:"LEDGER_METRICS_NAMESPACE,default=ledger"`
}

// Load reads an optional .env file and decodes the environment into a
// Config. A missing .env file is not an error; explicit paths must exist.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("config: load env file: %w", err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combinations envdecode cannot express.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("LEDGER_POSTGRES_DSN is required when LEDGER_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_STORE %q", c.Store))
	}

	if c.PostingTimeout <= 0 {
		errs = append(errs, errors.New("LEDGER_POSTING_TIMEOUT must be positive"))
	}
	if c.CacheEnabled {
		if c.CacheTTL <= 0 {
			errs = append(errs, errors.New("LEDGER_CACHE_TTL must be positive"))
		}
		if c.CacheMaxEntries <= 0 {
			errs = append(errs, errors.New("LEDGER_CACHE_MAX_ENTRIES must be positive"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// AuthEnabled reports whether bearer tokens are verified.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
