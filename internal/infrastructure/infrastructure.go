// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, state store, archive storage, metrics)
// that domain systems require.
package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/config"
	"github.com/JaimeStill/ktru/internal/metrics"
	"github.com/JaimeStill/ktru/internal/notify"
	"github.com/JaimeStill/ktru/internal/state"
	"github.com/JaimeStill/ktru/pkg/clock"
	"github.com/JaimeStill/ktru/pkg/database"
	"github.com/JaimeStill/ktru/pkg/kvstore"
	"github.com/JaimeStill/ktru/pkg/lifecycle"
	"github.com/JaimeStill/ktru/pkg/storage"
)

// starter is satisfied by every connection-owning system.
type starter interface {
	Start(lc *lifecycle.Coordinator) error
}

// Infrastructure holds the core systems required by all domain modules.
// It provides a single point of initialization for lifecycle coordination,
// logging, batch state, and raw output archiving.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Clock     clock.Clock
	Metrics   *metrics.Collector
	Store     batches.Store
	Outbox    notify.Outbox
	// Storage is nil when no archive connection string is configured.
	Storage storage.System

	systems []starter
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	infra := &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Clock:     clock.System{},
		Metrics:   metrics.New(),
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		var hooks []database.Hook
		if cfg.Database.AutoMigrate {
			dsn := cfg.Database.Dsn()
			hooks = append(hooks, func(context.Context, *sql.DB) error {
				return state.MigrateUp(dsn, logger)
			})
		}

		db, err := database.New(&cfg.Database, logger, hooks...)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		infra.Store = state.NewPostgres(db.Connection(), logger, cfg.API.Pagination)
		infra.Outbox = state.NewPostgresOutbox(db.Connection())
		infra.systems = append(infra.systems, db)
		lc.AddCheck("database", db.Ping)
	default:
		kv, err := kvstore.New(&cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("kvstore init failed: %w", err)
		}
		infra.Store = state.NewRedis(kv.Client(), cfg.Redis.KeyPrefix, logger, cfg.API.Pagination)
		infra.Outbox = state.NewRedisOutbox(kv.Client(), cfg.Redis.KeyPrefix)
		infra.systems = append(infra.systems, kv)
	}

	lc.AddCheck("store", infra.Store.Ping)

	if cfg.Storage.Enabled() {
		store, err := storage.New(&cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("storage init failed: %w", err)
		}
		infra.Storage = store
		infra.systems = append(infra.systems, store)
		lc.AddCheck("archive", store.Ping)
	}

	return infra, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
// State store and storage hooks are registered for startup and shutdown coordination.
func (i *Infrastructure) Start() error {
	for _, s := range i.systems {
		if err := s.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("infrastructure start failed: %w", err)
		}
	}
	return nil
}
