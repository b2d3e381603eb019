// Package kvstore provides Redis connection management with lifecycle coordination.
package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/ktru/pkg/lifecycle"
)

// System manages the Redis client and lifecycle coordination.
type System interface {
	// Client returns the underlying Redis client.
	Client() *redis.Client
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
}

type kv struct {
	client      *redis.Client
	logger      *slog.Logger
	connTimeout time.Duration
}

// New creates a Redis system from the given configuration.
// The URL is parsed and the client is built, but no connection is
// attempted until Start is called.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.ConnTimeoutDuration()

	return &kv{
		client:      redis.NewClient(opts),
		logger:      logger.With("system", "kvstore"),
		connTimeout: cfg.ConnTimeoutDuration(),
	}, nil
}

func (k *kv) Client() *redis.Client {
	return k.client
}

func (k *kv) Start(lc *lifecycle.Coordinator) error {
	k.logger.Info("starting redis connection")

	lc.OnStartup(func() {
		pingCtx, cancel := context.WithTimeout(lc.Context(), k.connTimeout)
		defer cancel()

		if err := k.client.Ping(pingCtx).Err(); err != nil {
			k.logger.Error("redis ping failed", "error", err)
			return
		}

		k.logger.Info("redis connection established")
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		k.logger.Info("closing redis connection")

		if err := k.client.Close(); err != nil {
			k.logger.Error("redis close failed", "error", err)
			return
		}

		k.logger.Info("redis connection closed")
	})

	return nil
}
