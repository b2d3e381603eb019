package notify

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds callback delivery settings. An empty URL disables callbacks.
type Config struct {
	URL             string `toml:"url"`
	Secret          string `toml:"secret"`
	Timeout         string `toml:"timeout"`
	MaxAttempts     int    `toml:"max_attempts"`
	BaseDelay       string `toml:"base_delay"`
	MaxDelay        string `toml:"max_delay"`
	RelayInterval   string `toml:"relay_interval"`
	RelayBatchSize   int    `toml:"relay_batch_size"`
	RelayConcurrency int    `toml:"relay_concurrency"`
	IncludeProducts  bool   `toml:"include_products"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	URL              string
	Secret           string
	Timeout          string
	MaxAttempts      string
	RelayConcurrency string
	IncludeProducts  string
}

func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

func (c *Config) BaseDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.BaseDelay)
	return d
}

func (c *Config) MaxDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxDelay)
	return d
}

func (c *Config) RelayIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.RelayInterval)
	return d
}

// RetryDelay returns the wait after the given number of failed attempts:
// BaseDelay * 2^(failures-1), capped at MaxDelay.
func (c *Config) RetryDelay(failures int) time.Duration {
	base, ceiling := c.BaseDelayDuration(), c.MaxDelayDuration()
	if failures < 1 {
		return base
	}

	delay := base
	for range failures - 1 {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	return min(delay, ceiling)
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.URL != "" {
		c.URL = overlay.URL
	}
	if overlay.Secret != "" {
		c.Secret = overlay.Secret
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.MaxAttempts != 0 {
		c.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.BaseDelay != "" {
		c.BaseDelay = overlay.BaseDelay
	}
	if overlay.MaxDelay != "" {
		c.MaxDelay = overlay.MaxDelay
	}
	if overlay.RelayInterval != "" {
		c.RelayInterval = overlay.RelayInterval
	}
	if overlay.RelayBatchSize != 0 {
		c.RelayBatchSize = overlay.RelayBatchSize
	}
	if overlay.RelayConcurrency != 0 {
		c.RelayConcurrency = overlay.RelayConcurrency
	}
	if overlay.IncludeProducts {
		c.IncludeProducts = true
	}
}

func (c *Config) loadDefaults() {
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay == "" {
		c.BaseDelay = "1m"
	}
	if c.MaxDelay == "" {
		c.MaxDelay = "24h"
	}
	if c.RelayInterval == "" {
		c.RelayInterval = "5s"
	}
	if c.RelayBatchSize == 0 {
		c.RelayBatchSize = 50
	}
	if c.RelayConcurrency == 0 {
		c.RelayConcurrency = 4
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.URL != "" {
		if v := os.Getenv(env.URL); v != "" {
			c.URL = v
		}
	}
	if env.Secret != "" {
		if v := os.Getenv(env.Secret); v != "" {
			c.Secret = v
		}
	}
	if env.Timeout != "" {
		if v := os.Getenv(env.Timeout); v != "" {
			c.Timeout = v
		}
	}
	if env.MaxAttempts != "" {
		if v := os.Getenv(env.MaxAttempts); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxAttempts = n
			}
		}
	}
	if env.RelayConcurrency != "" {
		if v := os.Getenv(env.RelayConcurrency); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.RelayConcurrency = n
			}
		}
	}
	if env.IncludeProducts != "" {
		if v := os.Getenv(env.IncludeProducts); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.IncludeProducts = b
			}
		}
	}
}

func (c *Config) validate() error {
	for name, v := range map[string]string{
		"timeout":        c.Timeout,
		"base_delay":     c.BaseDelay,
		"max_delay":      c.MaxDelay,
		"relay_interval": c.RelayInterval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.RelayConcurrency < 1 {
		return fmt.Errorf("relay_concurrency must be positive")
	}
	if c.URL != "" && c.Secret == "" {
		return fmt.Errorf("secret is required when url is set")
	}
	return nil
}
