package openapi

import (
	"os"
	"strings"
)

// Config carries document metadata.
type Config struct {
	Title       string `toml:"title"`
	Description string `toml:"description"`

	// Servers are extra public base URLs listed after the mount path,
	// e.g. the address behind a reverse proxy.
	Servers []string `toml:"servers"`
}

// ConfigEnv names the environment variables that override Config.
// Servers is read as a comma-separated list.
type ConfigEnv struct {
	Title       string
	Description string
	Servers     string
}

// Finalize fills defaults and applies env overrides.
func (c *Config) Finalize(env *ConfigEnv) error {
	if c.Title == "" {
		c.Title = "KTRU Classification API"
	}
	if c.Description == "" {
		c.Description = "Asynchronous batch classification of retail products into KTRU catalog codes."
	}

	if env == nil {
		return nil
	}
	if v := lookup(env.Title); v != "" {
		c.Title = v
	}
	if v := lookup(env.Description); v != "" {
		c.Description = v
	}
	if v := lookup(env.Servers); v != "" {
		c.Servers = c.Servers[:0]
		for s := range strings.SplitSeq(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Servers = append(c.Servers, s)
			}
		}
	}
	return nil
}

// Merge copies set fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Title != "" {
		c.Title = overlay.Title
	}
	if overlay.Description != "" {
		c.Description = overlay.Description
	}
	if overlay.Servers != nil {
		c.Servers = overlay.Servers
	}
}

func lookup(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
