package config

import (
	"fmt"
	"os"
)

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// StoreConfig selects the state store backend.
type StoreConfig struct {
	Driver string `toml:"driver"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *StoreConfig) Finalize() error {
	if c.Driver == "" {
		c.Driver = DriverRedis
	}
	if v := os.Getenv("KTRU_STORE_DRIVER"); v != "" {
		c.Driver = v
	}

	switch c.Driver {
	case DriverRedis, DriverPostgres:
		return nil
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
}

// Merge overwrites non-zero fields from overlay.
func (c *StoreConfig) Merge(overlay *StoreConfig) {
	if overlay.Driver != "" {
		c.Driver = overlay.Driver
	}
}
