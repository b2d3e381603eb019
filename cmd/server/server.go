package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/JaimeStill/ktru/internal/api"
	"github.com/JaimeStill/ktru/internal/config"
	"github.com/JaimeStill/ktru/internal/infrastructure"
	"github.com/JaimeStill/ktru/pkg/middleware"
	"github.com/JaimeStill/ktru/pkg/module"
	"github.com/JaimeStill/ktru/web/scalar"
)

// Server owns the infrastructure and the HTTP listener in front of the
// mounted modules.
type Server struct {
	infra *infrastructure.Infrastructure
	http  *httpServer
}

// NewServer wires infrastructure, the API and docs modules, and the probe
// endpoints. Nothing is started.
func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	router, err := newRouter(cfg, infra)
	if err != nil {
		return nil, err
	}

	infra.Logger.Info("server initialized",
		"addr", cfg.Server.Addr(),
		"version", cfg.Version,
		"env", cfg.Env(),
		"store", cfg.Store.Driver,
		"archive", cfg.Storage.Enabled(),
		"modules", router.Prefixes(),
	)

	return &Server{
		infra: infra,
		http:  newHTTPServer(&cfg.Server, router, infra.Logger),
	}, nil
}

func newRouter(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Router, error) {
	apiModule, err := api.NewModule(cfg, infra)
	if err != nil {
		return nil, fmt.Errorf("api module: %w", err)
	}

	docs, err := scalar.NewModule("/scalar", cfg.API.BasePath+"/openapi.json")
	if err != nil {
		return nil, fmt.Errorf("scalar module: %w", err)
	}
	docs.Use(middleware.Logger(infra.Logger))

	router := module.NewRouter()
	router.Mount(apiModule)
	router.Mount(docs)

	p := probes{lc: infra.Lifecycle}
	router.HandleFunc("GET /healthz", p.live)
	router.HandleFunc("GET /readyz", p.ready)
	router.Handle("GET /metrics", infra.Metrics.Handler())

	return router, nil
}

// Start launches the infrastructure and the listener. Readiness flips once
// every startup hook has finished.
func (s *Server) Start() error {
	if err := s.infra.Start(); err != nil {
		return err
	}
	if err := s.http.Start(s.infra.Lifecycle); err != nil {
		return err
	}

	go func() {
		s.infra.Lifecycle.WaitForStartup()
		s.infra.Logger.Info("all subsystems ready")
	}()
	return nil
}

// Shutdown stops background work and the listener within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.infra.Logger.Info("shutting down", "timeout", timeout)
	if err := s.infra.Lifecycle.Shutdown(timeout); err != nil {
		return err
	}
	s.infra.Logger.Info("ktru stopped")
	return nil
}

// Handler exposes the composed router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.srv.Handler
}
