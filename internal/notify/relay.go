package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/ktru/pkg/clock"
	"github.com/JaimeStill/ktru/pkg/lifecycle"
)

// Relay retries pending callback records on an interval.
type Relay struct {
	notifier *Notifier
	outbox   Outbox
	clock    clock.Clock
	interval    time.Duration
	limit       int
	concurrency int
	logger   *slog.Logger
}

// NewRelay creates a Relay that drives n.
func NewRelay(n *Notifier) *Relay {
	return &Relay{
		notifier:    n,
		outbox:      n.outbox,
		clock:       n.clock,
		interval:    n.cfg.RelayIntervalDuration(),
		limit:       n.cfg.RelayBatchSize,
		concurrency: n.cfg.RelayConcurrency,
		logger:      n.logger.With("component", "relay"),
	}
}

// Flush attempts every due record once, at most RelayConcurrency at a time,
// and returns how many were attempted.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	ids, err := r.outbox.Due(ctx, r.clock.Now(), r.limit)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.notifier.Deliver(ctx, id); err != nil {
				r.logger.Error("deliver callback failed", "batch_id", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	return len(ids), nil
}

// Run flushes on every interval until ctx ends.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.Error("relay flush failed", "error", err)
			}
		}
	}
}

// Start runs the relay for the lifetime of lc. Disabled notifiers do not start it.
func (r *Relay) Start(lc *lifecycle.Coordinator) error {
	if !r.notifier.Enabled() {
		r.logger.Info("callback url not configured, relay disabled")
		return nil
	}

	lc.Go(func(ctx context.Context) {
		r.logger.Info("callback relay started", "interval", r.interval)
		r.Run(ctx)
		r.logger.Info("callback relay stopped")
	})
	return nil
}
