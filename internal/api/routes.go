package api

import (
	"fmt"
	"net/http"

	"github.com/JaimeStill/ktru/internal/config"
	"github.com/JaimeStill/ktru/internal/orchestrator"
	"github.com/JaimeStill/ktru/pkg/openapi"
	"github.com/JaimeStill/ktru/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) error {
	handler := domain.Orchestrator.Handler(cfg.API.MaxBodySizeBytes())

	groups := []routes.Group{
		handler.Routes(),
		handler.CallbackRoutes(),
	}
	if runtime.Storage != nil {
		groups = append(groups, newArchiveHandler(runtime.Storage, runtime.Logger).routes())
	}
	routes.Register(mux, groups...)
	runtime.Logger.Debug("routes registered", "patterns", routes.Patterns(groups...))

	spec := orchestrator.Spec(&cfg.API.OpenAPI, cfg.Version, cfg.API.BasePath)
	specBytes, err := openapi.MarshalJSON(spec)
	if err != nil {
		return fmt.Errorf("marshal openapi spec: %w", err)
	}
	mux.HandleFunc("GET /openapi.json", openapi.ServeSpec(specBytes))

	return nil
}
