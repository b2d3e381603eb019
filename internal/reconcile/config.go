package reconcile

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls polling cadence and abandonment.
type Config struct {
	TickInterval  string  `toml:"tick_interval"`
	BaseInterval  string  `toml:"base_interval"`
	MaxInterval   string  `toml:"max_interval"`
	BackoffFactor float64 `toml:"backoff_factor"`
	MaxAge        string  `toml:"max_age"`
	BatchLimit    int     `toml:"batch_limit"`
	Concurrency   int     `toml:"concurrency"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	TickInterval string
	BaseInterval string
	MaxInterval  string
	MaxAge       string
	BatchLimit   string
	Concurrency  string
}

func (c *Config) TickIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.TickInterval)
	return d
}

func (c *Config) BaseIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.BaseInterval)
	return d
}

func (c *Config) MaxIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxInterval)
	return d
}

func (c *Config) MaxAgeDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxAge)
	return d
}

// NextInterval returns the poll interval following a poll. Progress resets
// it to BaseInterval; an idle poll grows it by BackoffFactor up to MaxInterval.
func (c *Config) NextInterval(current time.Duration, progress bool) time.Duration {
	base := c.BaseIntervalDuration()
	if progress || current <= 0 {
		return base
	}
	next := time.Duration(float64(current) * c.BackoffFactor)
	return max(base, min(next, c.MaxIntervalDuration()))
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
	if overlay.TickInterval != "" {
		c.TickInterval = overlay.TickInterval
	}
	if overlay.BaseInterval != "" {
		c.BaseInterval = overlay.BaseInterval
	}
	if overlay.MaxInterval != "" {
		c.MaxInterval = overlay.MaxInterval
	}
	if overlay.BackoffFactor != 0 {
		c.BackoffFactor = overlay.BackoffFactor
	}
	if overlay.MaxAge != "" {
		c.MaxAge = overlay.MaxAge
	}
	if overlay.BatchLimit != 0 {
		c.BatchLimit = overlay.BatchLimit
	}
	if overlay.Concurrency != 0 {
		c.Concurrency = overlay.Concurrency
	}
}

func (c *Config) loadDefaults() {
	if c.TickInterval == "" {
		c.TickInterval = "5s"
	}
	if c.BaseInterval == "" {
		c.BaseInterval = "5s"
	}
	if c.MaxInterval == "" {
		c.MaxInterval = "5m"
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 2
	}
	if c.MaxAge == "" {
		c.MaxAge = "24h"
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = 100
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.TickInterval != "" {
		if v := os.Getenv(env.TickInterval); v != "" {
			c.TickInterval = v
		}
	}
	if env.BaseInterval != "" {
		if v := os.Getenv(env.BaseInterval); v != "" {
			c.BaseInterval = v
		}
	}
	if env.MaxInterval != "" {
		if v := os.Getenv(env.MaxInterval); v != "" {
			c.MaxInterval = v
		}
	}
	if env.MaxAge != "" {
		if v := os.Getenv(env.MaxAge); v != "" {
			c.MaxAge = v
		}
	}
	if env.BatchLimit != "" {
		if v := os.Getenv(env.BatchLimit); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.BatchLimit = n
			}
		}
	}
	if env.Concurrency != "" {
		if v := os.Getenv(env.Concurrency); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Concurrency = n
			}
		}
	}
}

func (c *Config) validate() error {
	for name, v := range map[string]string{
		"tick_interval": c.TickInterval,
		"base_interval": c.BaseInterval,
		"max_interval":  c.MaxInterval,
		"max_age":       c.MaxAge,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.MaxIntervalDuration() < c.BaseIntervalDuration() {
		return fmt.Errorf("max_interval must not be less than base_interval")
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be at least 1")
	}
	if c.BatchLimit < 1 || c.Concurrency < 1 {
		return fmt.Errorf("batch_limit and concurrency must be positive")
	}
	return nil
}
