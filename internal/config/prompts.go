package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/JaimeStill/ktru/internal/parser"
)

// PromptsConfig locates the prompt template and tunes result parsing.
type PromptsConfig struct {
	Dir            string `toml:"dir"`
	Default        string `toml:"default"`
	NotFoundPhrase string `toml:"not_found_phrase"`
	CodePattern    string `toml:"code_pattern"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *PromptsConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *PromptsConfig) Merge(overlay *PromptsConfig) {
	if overlay.Dir != "" {
		c.Dir = overlay.Dir
	}
	if overlay.Default != "" {
		c.Default = overlay.Default
	}
	if overlay.NotFoundPhrase != "" {
		c.NotFoundPhrase = overlay.NotFoundPhrase
	}
	if overlay.CodePattern != "" {
		c.CodePattern = overlay.CodePattern
	}
}

func (c *PromptsConfig) loadDefaults() {
	if c.Dir == "" {
		c.Dir = "prompts"
	}
	if c.Default == "" {
		c.Default = "ktru_detection.yaml"
	}
	if c.NotFoundPhrase == "" {
		c.NotFoundPhrase = parser.DefaultNotFoundPhrase
	}
	if c.CodePattern == "" {
		c.CodePattern = parser.DefaultPattern
	}
}

func (c *PromptsConfig) loadEnv() {
	if v := os.Getenv("KTRU_PROMPTS_DIR"); v != "" {
		c.Dir = v
	}
	if v := os.Getenv("KTRU_PROMPTS_DEFAULT"); v != "" {
		c.Default = v
	}
	if v := os.Getenv("KTRU_PROMPTS_NOT_FOUND_PHRASE"); v != "" {
		c.NotFoundPhrase = v
	}
}

func (c *PromptsConfig) validate() error {
	if _, err := regexp.Compile(c.CodePattern); err != nil {
		return fmt.Errorf("invalid code_pattern: %w", err)
	}
	return nil
}
