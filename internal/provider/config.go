package provider

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/ktru/pkg/retry"
)

// Config holds Message Batches API settings.
type Config struct {
	BaseURL           string       `toml:"base_url"`
	APIKey            string       `toml:"api_key"`
	Version           string       `toml:"version"`
	Model             string       `toml:"model"`
	MaxTokens         int          `toml:"max_tokens"`
	MaxRequestsPerJob int          `toml:"max_requests_per_job"`
	SubmitConcurrency int          `toml:"submit_concurrency"`
	RequestsPerSecond float64      `toml:"requests_per_second"`
	Timeout           string       `toml:"timeout"`
	WebSearch         bool         `toml:"web_search"`
	WebSearchMaxUses  int          `toml:"web_search_max_uses"`
	WebhookSecret     string       `toml:"webhook_secret"`
	Retry             retry.Config `toml:"retry"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	BaseURL           string
	APIKey            string
	Model             string
	MaxRequestsPerJob string
	RequestsPerSecond string
	Timeout           string
	WebSearch         string
	WebhookSecret     string
	Retry             *retry.Env
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	if err := c.validate(); err != nil {
		return err
	}

	var retryEnv *retry.Env
	if env != nil {
		retryEnv = env.Retry
	}
	if err := c.Retry.Finalize(retryEnv); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.BaseURL != "" {
		c.BaseURL = overlay.BaseURL
	}
	if overlay.APIKey != "" {
		c.APIKey = overlay.APIKey
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	if overlay.Model != "" {
		c.Model = overlay.Model
	}
	if overlay.MaxTokens != 0 {
		c.MaxTokens = overlay.MaxTokens
	}
	if overlay.MaxRequestsPerJob != 0 {
		c.MaxRequestsPerJob = overlay.MaxRequestsPerJob
	}
	if overlay.SubmitConcurrency != 0 {
		c.SubmitConcurrency = overlay.SubmitConcurrency
	}
	if overlay.RequestsPerSecond != 0 {
		c.RequestsPerSecond = overlay.RequestsPerSecond
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.WebSearch {
		c.WebSearch = true
	}
	if overlay.WebSearchMaxUses != 0 {
		c.WebSearchMaxUses = overlay.WebSearchMaxUses
	}
	if overlay.WebhookSecret != "" {
		c.WebhookSecret = overlay.WebhookSecret
	}
	c.Retry.Merge(&overlay.Retry)
}

func (c *Config) loadDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.anthropic.com"
	}
	if c.Version == "" {
		c.Version = "2023-06-01"
	}
	if c.Model == "" {
		c.Model = "claude-3-7-sonnet-20250219"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 32768
	}
	if c.MaxRequestsPerJob == 0 {
		c.MaxRequestsPerJob = 25
	}
	if c.SubmitConcurrency == 0 {
		c.SubmitConcurrency = 4
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	if c.Timeout == "" {
		c.Timeout = "300s"
	}
	if c.WebSearchMaxUses == 0 {
		c.WebSearchMaxUses = 5
	}
}

func (c *Config) loadEnv(env *Env) {
	str := func(name string, dst *string) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	str(env.BaseURL, &c.BaseURL)
	str(env.APIKey, &c.APIKey)
	str(env.Model, &c.Model)
	str(env.Timeout, &c.Timeout)
	str(env.WebhookSecret, &c.WebhookSecret)

	if env.MaxRequestsPerJob != "" {
		if v := os.Getenv(env.MaxRequestsPerJob); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxRequestsPerJob = n
			}
		}
	}
	if env.RequestsPerSecond != "" {
		if v := os.Getenv(env.RequestsPerSecond); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.RequestsPerSecond = f
			}
		}
	}
	if env.WebSearch != "" {
		if v := os.Getenv(env.WebSearch); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.WebSearch = b
			}
		}
	}
}

func (c *Config) validate() error {
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.MaxRequestsPerJob < 1 {
		return fmt.Errorf("max_requests_per_job must be positive")
	}
	if c.SubmitConcurrency < 1 {
		return fmt.Errorf("submit_concurrency must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	return nil
}
