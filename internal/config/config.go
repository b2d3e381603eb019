package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/ktru/internal/notify"
	"github.com/JaimeStill/ktru/internal/provider"
	"github.com/JaimeStill/ktru/internal/reconcile"
	"github.com/JaimeStill/ktru/pkg/database"
	"github.com/JaimeStill/ktru/pkg/kvstore"
	"github.com/JaimeStill/ktru/pkg/retry"
	"github.com/JaimeStill/ktru/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvKtruConfig          = "KTRU_CONFIG"
	EnvKtruEnv             = "KTRU_ENV"
	EnvKtruShutdownTimeout = "KTRU_SHUTDOWN_TIMEOUT"
	EnvKtruVersion         = "KTRU_VERSION"
)

// DatabaseEnv names the KTRU_DB_* variables read into database.Config.
var DatabaseEnv = &database.Env{
	URL:             "KTRU_DB_DSN",
	Host:            "KTRU_DB_HOST",
	Port:            "KTRU_DB_PORT",
	Name:            "KTRU_DB_NAME",
	User:            "KTRU_DB_USER",
	Password:        "KTRU_DB_PASSWORD",
	SSLMode:         "KTRU_DB_SSL_MODE",
	MaxOpenConns:    "KTRU_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "KTRU_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "KTRU_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "KTRU_DB_CONN_TIMEOUT",
	AutoMigrate:     "KTRU_DB_AUTO_MIGRATE",
}

var redisEnv = &kvstore.Env{
	URL:         "KTRU_REDIS_URL",
	Password:    "KTRU_REDIS_PASSWORD",
	PoolSize:    "KTRU_REDIS_POOL_SIZE",
	ConnTimeout: "KTRU_REDIS_CONN_TIMEOUT",
	KeyPrefix:   "KTRU_REDIS_KEY_PREFIX",
}

var storageEnv = &storage.Env{
	ContainerName:    "KTRU_STORAGE_CONTAINER_NAME",
	ConnectionString: "KTRU_STORAGE_CONNECTION_STRING",
}

var providerEnv = &provider.Env{
	BaseURL:           "KTRU_PROVIDER_BASE_URL",
	APIKey:            "KTRU_PROVIDER_API_KEY",
	Model:             "KTRU_PROVIDER_MODEL",
	MaxRequestsPerJob: "KTRU_PROVIDER_MAX_REQUESTS_PER_JOB",
	RequestsPerSecond: "KTRU_PROVIDER_REQUESTS_PER_SECOND",
	Timeout:           "KTRU_PROVIDER_TIMEOUT",
	WebSearch:         "KTRU_PROVIDER_WEB_SEARCH",
	WebhookSecret:     "KTRU_PROVIDER_WEBHOOK_SECRET",
	Retry: &retry.Env{
		MaxAttempts:  "KTRU_PROVIDER_RETRY_MAX_ATTEMPTS",
		InitialDelay: "KTRU_PROVIDER_RETRY_INITIAL_DELAY",
		MaxDelay:     "KTRU_PROVIDER_RETRY_MAX_DELAY",
		Multiplier:   "KTRU_PROVIDER_RETRY_MULTIPLIER",
	},
}

var reconcilerEnv = &reconcile.Env{
	TickInterval: "KTRU_RECONCILER_TICK_INTERVAL",
	BaseInterval: "KTRU_RECONCILER_BASE_INTERVAL",
	MaxInterval:  "KTRU_RECONCILER_MAX_INTERVAL",
	MaxAge:       "KTRU_RECONCILER_MAX_AGE",
	BatchLimit:   "KTRU_RECONCILER_BATCH_LIMIT",
	Concurrency:  "KTRU_RECONCILER_CONCURRENCY",
}

var notifierEnv = &notify.Env{
	URL:              "KTRU_NOTIFIER_URL",
	Secret:           "KTRU_NOTIFIER_SECRET",
	Timeout:          "KTRU_NOTIFIER_TIMEOUT",
	MaxAttempts:      "KTRU_NOTIFIER_MAX_ATTEMPTS",
	RelayConcurrency: "KTRU_NOTIFIER_RELAY_CONCURRENCY",
	IncludeProducts:  "KTRU_NOTIFIER_INCLUDE_PRODUCTS",
}

// Config is the root configuration for the KTRU service.
type Config struct {
	Server          ServerConfig     `toml:"server"`
	API             APIConfig        `toml:"api"`
	Store           StoreConfig      `toml:"store"`
	Redis           kvstore.Config   `toml:"redis"`
	Database        database.Config  `toml:"database"`
	Storage         storage.Config   `toml:"storage"`
	Provider        provider.Config  `toml:"provider"`
	Reconciler      reconcile.Config `toml:"reconciler"`
	Notifier        notify.Config    `toml:"notifier"`
	Prompts         PromptsConfig    `toml:"prompts"`
	ShutdownTimeout string           `toml:"shutdown_timeout"`
	Version         string           `toml:"version"`
}

// Env returns the KTRU_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvKtruEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load resolves configuration in order: the base file, the KTRU_ENV
// overlay, then defaults and KTRU_* variables. A missing base file is not
// an error. KTRU_CONFIG relocates the base file; overlays are looked up
// beside it.
func Load() (*Config, error) {
	base := BaseConfigFile
	if v := os.Getenv(EnvKtruConfig); v != "" {
		base = v
	}

	cfg := &Config{}
	if _, err := os.Stat(base); err == nil {
		if cfg, err = load(base); err != nil {
			return nil, err
		}
	} else if base != BaseConfigFile {
		return nil, fmt.Errorf("config file %s: %w", base, err)
	}

	if path := overlayPath(base); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

// Merge applies the set fields of overlay to every section.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.API.Merge(&overlay.API)
	c.Store.Merge(&overlay.Store)
	c.Redis.Merge(&overlay.Redis)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Provider.Merge(&overlay.Provider)
	c.Reconciler.Merge(&overlay.Reconciler)
	c.Notifier.Merge(&overlay.Notifier)
	c.Prompts.Merge(&overlay.Prompts)
}

// Finalize fills defaults, applies KTRU_* overrides, and validates each
// section. The first failing section is reported by its TOML name.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	if err := c.validate(); err != nil {
		return err
	}

	sections := []struct {
		name     string
		finalize func() error
	}{
		{"server", c.Server.Finalize},
		{"api", c.API.Finalize},
		{"store", c.Store.Finalize},
		{"redis", func() error { return c.Redis.Finalize(redisEnv) }},
		{"database", func() error { return c.Database.Finalize(DatabaseEnv) }},
		{"storage", func() error { return c.Storage.Finalize(storageEnv) }},
		{"provider", func() error { return c.Provider.Finalize(providerEnv) }},
		{"reconciler", func() error { return c.Reconciler.Finalize(reconcilerEnv) }},
		{"notifier", func() error { return c.Notifier.Finalize(notifierEnv) }},
		{"prompts", c.Prompts.Finalize},
	}
	for _, s := range sections {
		if err := s.finalize(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvKtruShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvKtruVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath(base string) string {
	env := os.Getenv(EnvKtruEnv)
	if env == "" {
		return ""
	}
	path := filepath.Join(filepath.Dir(base), fmt.Sprintf(OverlayConfigPattern, env))
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
