// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"fmt"
	"net/http"

	"github.com/JaimeStill/ktru/internal/config"
	"github.com/JaimeStill/ktru/internal/infrastructure"
	"github.com/JaimeStill/ktru/pkg/middleware"
	"github.com/JaimeStill/ktru/pkg/module"
)

// Public paths are reachable without an API key. The provider callback
// authenticates with its own signature.
var publicPaths = []string{
	"/provider/callback",
	"/openapi.json",
}

// NewModule creates the API module with all domain handlers and middleware,
// and registers the reconciler and notification relay with the lifecycle.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, error) {
	runtime := NewRuntime(cfg.API.Pagination, infra)

	domain, err := NewDomain(cfg, runtime)
	if err != nil {
		return nil, fmt.Errorf("api domain: %w", err)
	}

	mux := http.NewServeMux()
	if err := registerRoutes(mux, domain, cfg, runtime); err != nil {
		return nil, err
	}

	if err := domain.Reconciler.Start(infra.Lifecycle); err != nil {
		return nil, fmt.Errorf("reconciler start failed: %w", err)
	}
	if err := domain.Relay.Start(infra.Lifecycle); err != nil {
		return nil, fmt.Errorf("relay start failed: %w", err)
	}

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Logger))
	m.Use(infra.Metrics.Middleware())
	m.Use(middleware.APIKey(cfg.API.APIKey, publicPaths...))

	return m, nil
}
