package retry

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds backoff settings in their file representation.
type Config struct {
	MaxAttempts  int     `toml:"max_attempts"`
	InitialDelay string  `toml:"initial_delay"`
	MaxDelay     string  `toml:"max_delay"`
	Multiplier   float64 `toml:"multiplier"`
	Jitter       bool    `toml:"jitter"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	MaxAttempts  string
	InitialDelay string
	MaxDelay     string
	Multiplier   string
}

// InitialDelayDuration returns InitialDelay as a time.Duration.
func (c *Config) InitialDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.InitialDelay)
	return d
}

// MaxDelayDuration returns MaxDelay as a time.Duration.
func (c *Config) MaxDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxDelay)
	return d
}

// Policy converts the config into a Policy with no hooks set.
func (c *Config) Policy() Policy {
	return Policy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelayDuration(),
		MaxDelay:     c.MaxDelayDuration(),
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
	}
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
	if overlay.MaxAttempts != 0 {
		c.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.InitialDelay != "" {
		c.InitialDelay = overlay.InitialDelay
	}
	if overlay.MaxDelay != "" {
		c.MaxDelay = overlay.MaxDelay
	}
	if overlay.Multiplier != 0 {
		c.Multiplier = overlay.Multiplier
	}
	if overlay.Jitter {
		c.Jitter = true
	}
}

func (c *Config) loadDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay == "" {
		c.InitialDelay = "1s"
	}
	if c.MaxDelay == "" {
		c.MaxDelay = "30s"
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.MaxAttempts != "" {
		if v := os.Getenv(env.MaxAttempts); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxAttempts = n
			}
		}
	}
	if env.InitialDelay != "" {
		if v := os.Getenv(env.InitialDelay); v != "" {
			c.InitialDelay = v
		}
	}
	if env.MaxDelay != "" {
		if v := os.Getenv(env.MaxDelay); v != "" {
			c.MaxDelay = v
		}
	}
	if env.Multiplier != "" {
		if v := os.Getenv(env.Multiplier); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.Multiplier = f
			}
		}
	}
}

func (c *Config) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if _, err := time.ParseDuration(c.InitialDelay); err != nil {
		return fmt.Errorf("invalid initial_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.MaxDelay); err != nil {
		return fmt.Errorf("invalid max_delay: %w", err)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}
	return nil
}
