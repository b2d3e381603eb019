package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/JaimeStill/ktru/pkg/formatting"
	"github.com/JaimeStill/ktru/pkg/middleware"
	"github.com/JaimeStill/ktru/pkg/openapi"
	"github.com/JaimeStill/ktru/pkg/pagination"
)

var corsEnv = &middleware.CORSEnv{
	Enabled:          "KTRU_CORS_ENABLED",
	Origins:          "KTRU_CORS_ORIGINS",
	AllowedMethods:   "KTRU_CORS_ALLOWED_METHODS",
	AllowedHeaders:   "KTRU_CORS_ALLOWED_HEADERS",
	AllowCredentials: "KTRU_CORS_ALLOW_CREDENTIALS",
	MaxAge:           "KTRU_CORS_MAX_AGE",
}

var paginationEnv = &pagination.ConfigEnv{
	DefaultPageSize: "KTRU_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "KTRU_PAGINATION_MAX_PAGE_SIZE",
}

var openapiEnv = &openapi.ConfigEnv{
	Title:       "KTRU_OPENAPI_TITLE",
	Description: "KTRU_OPENAPI_DESCRIPTION",
	Servers:     "KTRU_OPENAPI_SERVERS",
}

// APIConfig holds API routing, authentication, CORS, and pagination settings.
type APIConfig struct {
	BasePath         string                `toml:"base_path"`
	APIKey           string                `toml:"api_key"`
	MaxBatchProducts int                   `toml:"max_batch_products"`
	MaxBodySize      string                `toml:"max_body_size"`
	CORS             middleware.CORSConfig `toml:"cors"`
	Pagination       pagination.Config     `toml:"pagination"`
	OpenAPI          openapi.Config        `toml:"openapi"`
}

// MaxBodySizeBytes returns MaxBodySize in bytes.
func (c *APIConfig) MaxBodySizeBytes() int64 {
	size, err := formatting.ParseBytes(c.MaxBodySize)
	if err != nil {
		return 10 * 1024 * 1024 // 10MB fallback
	}
	return size
}

// Finalize applies defaults, environment variable overrides, and validation
// for the API config and its nested configs.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.CORS.Finalize(corsEnv); err != nil {
		return fmt.Errorf("cors: %w", err)
	}
	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	if err := c.OpenAPI.Finalize(openapiEnv); err != nil {
		return fmt.Errorf("openapi: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay across nested configs.
func (c *APIConfig) Merge(overlay *APIConfig) {
	if overlay.BasePath != "" {
		c.BasePath = overlay.BasePath
	}
	if overlay.APIKey != "" {
		c.APIKey = overlay.APIKey
	}
	if overlay.MaxBatchProducts != 0 {
		c.MaxBatchProducts = overlay.MaxBatchProducts
	}
	if overlay.MaxBodySize != "" {
		c.MaxBodySize = overlay.MaxBodySize
	}

	c.CORS.Merge(&overlay.CORS)
	c.Pagination.Merge(&overlay.Pagination)
	c.OpenAPI.Merge(&overlay.OpenAPI)
}

func (c *APIConfig) loadDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.MaxBatchProducts == 0 {
		c.MaxBatchProducts = 100
	}
	if c.MaxBodySize == "" {
		c.MaxBodySize = "10MB"
	}
}

func (c *APIConfig) loadEnv() {
	if v := os.Getenv("KTRU_API_BASE_PATH"); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv("KTRU_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("KTRU_API_MAX_BATCH_PRODUCTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxBatchProducts = n
		}
	}
	if v := os.Getenv("KTRU_API_MAX_BODY_SIZE"); v != "" {
		c.MaxBodySize = v
	}
}

func (c *APIConfig) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key required")
	}
	if c.MaxBatchProducts < 1 {
		return fmt.Errorf("max_batch_products must be positive")
	}
	if _, err := formatting.ParseBytes(c.MaxBodySize); err != nil {
		return fmt.Errorf("invalid max_body_size: %w", err)
	}
	return nil
}
