// Package reconcile settles submitted provider jobs into classification results.
// Polling and provider callbacks both converge on Reconcile, which is idempotent.
package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/metrics"
	"github.com/JaimeStill/ktru/internal/parser"
	"github.com/JaimeStill/ktru/internal/provider"
	"github.com/JaimeStill/ktru/pkg/clock"
	"github.com/JaimeStill/ktru/pkg/formatting"
	"github.com/JaimeStill/ktru/pkg/lifecycle"
)

// Outcome describes what a reconciliation did to a sub-batch.
type Outcome string

const (
	// OutcomeIngested means results were stored and the sub-batch settled.
	OutcomeIngested Outcome = "ingested"
	// OutcomePending means the provider job has not ended.
	OutcomePending Outcome = "pending"
	// OutcomeFailed means the provider no longer knows the job.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the sub-batch was already settled.
	OutcomeSkipped Outcome = "skipped"
)

// Notifier is told once when a batch reaches a terminal status.
type Notifier interface {
	Notify(ctx context.Context, b *batches.Batch) error
}

// Archive stores raw provider output. storage.System satisfies it.
type Archive interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
}

// ArchivePrefix is the key prefix holding a batch's raw provider output.
func ArchivePrefix(batchID string) string {
	return "results/" + batchID + "/"
}

// ArchiveKey names the raw JSONL archived for one provider job.
func ArchiveKey(batchID, handle string) string {
	return ArchivePrefix(batchID) + handle + ".jsonl"
}

// Reconciler polls provider jobs and ingests their results.
type Reconciler struct {
	cfg      *Config
	store    batches.Store
	client   provider.Client
	parser   *parser.Parser
	notifier Notifier
	archive  Archive
	clock    clock.Clock
	metrics  *metrics.Collector
	logger   *slog.Logger
	trigger  chan struct{}
}

// Option configures optional collaborators.
type Option func(*Reconciler)

// WithArchive stores each results file under results/<batch id>/<handle>.jsonl.
func WithArchive(a Archive) Option {
	return func(r *Reconciler) { r.archive = a }
}

// WithMetrics records reconciliation and classification counters.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New creates a Reconciler.
func New(
	cfg *Config,
	store batches.Store,
	client provider.Client,
	p *parser.Parser,
	notifier Notifier,
	clk clock.Clock,
	logger *slog.Logger,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		cfg:      cfg,
		store:    store,
		client:   client,
		parser:   p,
		notifier: notifier,
		clock:    clk,
		logger:   logger.With("system", "reconciler"),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile settles the sub-batch identified by handle. Calling it again for
// a settled sub-batch is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, batchID, handle string) (Outcome, error) {
	return r.reconcile(ctx, "webhook", batchID, handle)
}

// ReconcileBatch polls every outstanding sub-batch of one batch now.
func (r *Reconciler) ReconcileBatch(ctx context.Context, batchID string) (*batches.Batch, error) {
	return r.poll(ctx, "manual", batchID)
}

// Tick runs one scheduled pass over due batches and returns how many were polled.
func (r *Reconciler) Tick(ctx context.Context) (int, error) {
	ids, err := r.store.Due(ctx, r.clock.Now(), r.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list due batches: %w", err)
	}
	r.metrics.DueBatches(len(ids))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := r.poll(ctx, "poll", id); err != nil {
				r.logger.Error("poll batch failed", "batch_id", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	return len(ids), nil
}

// Trigger requests an immediate pass from Run without blocking.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run ticks on the configured interval, or when triggered, until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TickIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}

		if _, err := r.Tick(ctx); err != nil {
			r.logger.Error("reconcile tick failed", "error", err)
		}
	}
}

// Start runs the poll loop for the lifetime of lc.
func (r *Reconciler) Start(lc *lifecycle.Coordinator) error {
	lc.Go(func(ctx context.Context) {
		r.logger.Info("reconciler started", "tick_interval", r.cfg.TickInterval)
		r.Run(ctx)
		r.logger.Info("reconciler stopped")
	})
	return nil
}

func (r *Reconciler) poll(ctx context.Context, trigger, batchID string) (*batches.Batch, error) {
	b, err := r.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		if b.NotifiedAt == nil {
			// failure is logged and rescheduled by Finish
			_ = r.Finish(ctx, b)
		}
		return b, nil
	}

	if r.clock.Now().Sub(b.CreatedAt) > r.cfg.MaxAgeDuration() {
		return r.abandon(ctx, batchID)
	}

	progress := false
	for _, handle := range b.Outstanding() {
		outcome, err := r.reconcile(ctx, trigger, batchID, handle)
		if err != nil {
			r.logger.Warn("reconcile sub-batch failed",
				"batch_id", batchID,
				"handle", handle,
				"error", err,
			)
			continue
		}
		if outcome == OutcomeIngested || outcome == OutcomeFailed {
			progress = true
		}
	}

	return r.reschedule(ctx, batchID, progress)
}

func (r *Reconciler) reschedule(ctx context.Context, batchID string, progress bool) (*batches.Batch, error) {
	return r.store.Update(ctx, batchID, func(b *batches.Batch) (*batches.Change, error) {
		if b.Status.Terminal() {
			return nil, batches.ErrNoChange
		}
		if progress {
			b.IdlePolls = 0
		} else {
			b.IdlePolls++
		}
		b.PollInterval = r.cfg.NextInterval(b.PollInterval, progress)
		b.NextPollAt = r.clock.Now().Add(b.PollInterval)
		return nil, nil
	})
}

func (r *Reconciler) abandon(ctx context.Context, batchID string) (*batches.Batch, error) {
	var transitioned bool

	b, err := r.store.Update(ctx, batchID, func(b *batches.Batch) (*batches.Change, error) {
		transitioned = false
		if b.Status.Terminal() {
			return nil, batches.ErrNoChange
		}
		if err := b.Advance(batches.StatusFailed); err != nil {
			return nil, err
		}
		b.Reason = batches.ReasonAbandoned
		transitioned = true
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("abandon batch: %w", err)
	}

	if transitioned {
		r.logger.Warn("batch abandoned",
			"batch_id", batchID,
			"max_age", r.cfg.MaxAge,
			"outstanding", b.Outstanding(),
		)
		_ = r.Finish(ctx, b)
	}
	return b, nil
}

func (r *Reconciler) reconcile(ctx context.Context, trigger, batchID, handle string) (Outcome, error) {
	outcome, err := r.settle(ctx, batchID, handle)
	if err != nil {
		r.metrics.Reconciliation(trigger, "error")
		return "", err
	}
	r.metrics.Reconciliation(trigger, string(outcome))
	return outcome, nil
}

func (r *Reconciler) settle(ctx context.Context, batchID, handle string) (Outcome, error) {
	logger := r.logger.With("batch_id", batchID, "handle", handle)

	b, err := r.store.Get(ctx, batchID)
	if err != nil {
		return "", err
	}
	sb, ok := b.SubBatch(handle)
	if !ok {
		return "", fmt.Errorf("%w: handle %s not in batch %s", batches.ErrNotFound, handle, batchID)
	}
	if sb.State.Settled() || b.Status.Terminal() {
		return OutcomeSkipped, nil
	}

	job, err := r.client.Status(ctx, handle)
	if errors.Is(err, provider.ErrJobNotFound) {
		logger.Warn("provider job not found, failing sub-batch")
		return r.fail(ctx, batchID, handle, "provider job not found")
	}
	if err != nil {
		return "", fmt.Errorf("%w: get job status: %w", batches.ErrProvider, err)
	}

	if !job.Ended() {
		if job.ProcessingStatus != sb.ProviderStatus {
			r.recordStatus(ctx, batchID, handle, job.ProcessingStatus)
		}
		return OutcomePending, nil
	}

	rs, err := r.client.Results(ctx, job)
	if errors.Is(err, provider.ErrJobNotFound) {
		logger.Warn("provider results not found, failing sub-batch")
		return r.fail(ctx, batchID, handle, "provider results not found")
	}
	if err != nil {
		return "", fmt.Errorf("%w: get job results: %w", batches.ErrProvider, err)
	}

	r.archiveRaw(ctx, logger, batchID, handle, rs.Raw)

	results := r.classify(logger, sb.Items, rs.Items)

	applied, err := r.apply(ctx, batchID, handle, func(b *batches.Batch, sb *batches.SubBatch, now time.Time) []batches.ClassificationResult {
		sb.State = batches.SubIngested
		sb.ProviderStatus = job.ProcessingStatus
		sb.IngestedAt = &now
		b.AddProcessed(len(results))
		for i := range results {
			results[i].ClassifiedAt = now
		}
		return results
	})
	if err != nil {
		return "", err
	}
	if !applied {
		return OutcomeSkipped, nil
	}

	logger.Info("sub-batch ingested", "results", len(results))
	return OutcomeIngested, nil
}

func (r *Reconciler) fail(ctx context.Context, batchID, handle, reason string) (Outcome, error) {
	applied, err := r.apply(ctx, batchID, handle, func(_ *batches.Batch, sb *batches.SubBatch, _ time.Time) []batches.ClassificationResult {
		sb.State = batches.SubFailed
		sb.Error = reason
		return nil
	})
	if err != nil {
		return "", err
	}
	if !applied {
		return OutcomeSkipped, nil
	}
	return OutcomeFailed, nil
}

type mutation func(b *batches.Batch, sb *batches.SubBatch, now time.Time) []batches.ClassificationResult

// apply settles one sub-batch inside a serialized update and finishes the
// batch when that update moved it into a terminal status. It reports false when
// another writer settled the sub-batch first.
func (r *Reconciler) apply(ctx context.Context, batchID, handle string, mutate mutation) (bool, error) {
	var applied, transitioned bool

	// results already fetched are stored even if the caller went away
	ctx = context.WithoutCancel(ctx)

	b, err := r.store.Update(ctx, batchID, func(b *batches.Batch) (*batches.Change, error) {
		applied, transitioned = false, false

		sb, ok := b.SubBatch(handle)
		if !ok {
			return nil, fmt.Errorf("%w: handle %s", batches.ErrNotFound, handle)
		}
		if sb.State.Settled() || b.Status.Terminal() {
			return nil, batches.ErrNoChange
		}

		now := r.clock.Now()
		results := mutate(b, sb, now)
		b.LastActivityAt = now
		b.IdlePolls = 0
		b.PollInterval = r.cfg.BaseIntervalDuration()
		b.NextPollAt = now.Add(b.PollInterval)

		if err := b.Advance(b.Recompute()); err != nil {
			return nil, err
		}

		applied = true
		transitioned = b.Status.Terminal()
		return &batches.Change{Results: results}, nil
	})
	if err != nil {
		return false, fmt.Errorf("update batch: %w", err)
	}

	if transitioned {
		r.logger.Info("batch finished",
			"batch_id", b.ID,
			"status", b.Status,
			"processed", b.ProcessedCount,
			"products", b.ProductCount,
		)
		_ = r.Finish(ctx, b)
	}
	return applied, nil
}

// Finish hands a terminal batch to the notifier and records the hand-off in
// NotifiedAt. A batch that is not terminal, or already handed off, is left
// alone. When the notifier fails the batch stays scheduled with a backed-off
// NextPollAt so a later pass retries.
func (r *Reconciler) Finish(ctx context.Context, b *batches.Batch) error {
	if !b.Status.Terminal() || b.NotifiedAt != nil {
		return nil
	}

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, b); err != nil {
			err = fmt.Errorf("%w: %w", batches.ErrNotification, err)
			r.logger.Error("notify batch failed", "batch_id", b.ID, "error", err)
			r.deferFinish(ctx, b.ID)
			return err
		}
	}

	done, err := r.store.Update(ctx, b.ID, func(b *batches.Batch) (*batches.Change, error) {
		if b.NotifiedAt != nil {
			return nil, batches.ErrNoChange
		}
		now := r.clock.Now()
		b.NotifiedAt = &now
		return nil, nil
	})
	if err != nil {
		r.logger.Error("record notification failed", "batch_id", b.ID, "error", err)
		return fmt.Errorf("record notification: %w", err)
	}
	b.NotifiedAt = done.NotifiedAt
	return nil
}

func (r *Reconciler) deferFinish(ctx context.Context, batchID string) {
	_, err := r.store.Update(ctx, batchID, func(b *batches.Batch) (*batches.Change, error) {
		if b.NotifiedAt != nil {
			return nil, batches.ErrNoChange
		}
		b.PollInterval = r.cfg.NextInterval(b.PollInterval, false)
		b.NextPollAt = r.clock.Now().Add(b.PollInterval)
		return nil, nil
	})
	if err != nil {
		r.logger.Warn("reschedule notification failed", "batch_id", batchID, "error", err)
	}
}

func (r *Reconciler) recordStatus(ctx context.Context, batchID, handle, status string) {
	_, err := r.store.Update(ctx, batchID, func(b *batches.Batch) (*batches.Change, error) {
		sb, ok := b.SubBatch(handle)
		if !ok || sb.State.Settled() || sb.ProviderStatus == status {
			return nil, batches.ErrNoChange
		}
		sb.ProviderStatus = status
		return nil, nil
	})
	if err != nil {
		r.logger.Warn("record provider status failed", "batch_id", batchID, "handle", handle, "error", err)
	}
}

func (r *Reconciler) archiveRaw(ctx context.Context, logger *slog.Logger, batchID, handle string, raw []byte) {
	if r.archive == nil || len(raw) == 0 {
		return
	}

	key := ArchiveKey(batchID, handle)
	if err := r.archive.Upload(ctx, key, bytes.NewReader(raw), "application/jsonl"); err != nil {
		logger.Warn("archive results failed", "key", key, "error", err)
		return
	}
	logger.Debug("results archived", "key", key, "size", formatting.FormatBytes(int64(len(raw)), 1))
}

// classify maps provider results onto the sub-batch items. Items the
// provider returned nothing for are recorded as errored.
func (r *Reconciler) classify(logger *slog.Logger, items []batches.Item, results []provider.Result) []batches.ClassificationResult {
	byCustomID := make(map[string]provider.Result, len(results))
	for _, res := range results {
		byCustomID[res.CustomID] = res
	}

	out := make([]batches.ClassificationResult, 0, len(items))
	for _, item := range items {
		cr := batches.ClassificationResult{ProductID: item.ProductID}

		res, ok := byCustomID[item.CustomID]
		switch {
		case !ok:
			cr.Outcome = parser.Errored
			cr.Error = "no result returned"
		case res.Type != provider.ResultSucceeded:
			cr.Outcome = parser.Errored
			cr.Raw = res.Text
			cr.Error = res.Error
		default:
			parsed := r.parser.Parse(res.Text)
			cr.Code = parsed.Code
			cr.Outcome = parsed.Outcome
			cr.Raw = res.Text
			if parsed.Outcome == parser.Ambiguous {
				logger.Warn("ambiguous classification",
					"product_id", item.ProductID,
					"candidates", parsed.Candidates,
					"error", batches.ErrParseAmbiguity,
				)
			}
		}

		r.metrics.Classification(string(cr.Outcome))
		out = append(out, cr)
	}

	if len(results) > len(items) {
		logger.Warn("provider returned unexpected results", "expected", len(items), "received", len(results))
	}
	return out
}
