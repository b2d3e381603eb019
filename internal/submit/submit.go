// Package submit validates products, partitions them into provider jobs,
// and persists the resulting batch.
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/metrics"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/internal/prompts"
	"github.com/JaimeStill/ktru/internal/provider"
	"github.com/JaimeStill/ktru/pkg/clock"
	"github.com/JaimeStill/ktru/pkg/retry"
)

// Config bounds a submission.
type Config struct {
	MaxBatchProducts  int
	MaxRequestsPerJob int
	Concurrency       int
	BaseInterval      time.Duration
	Retry             retry.Policy
}

// Submitter turns a product list into a persisted batch.
type Submitter struct {
	cfg      Config
	store    batches.Store
	client   provider.Client
	renderer *prompts.Renderer
	clock    clock.Clock
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// New creates a Submitter. metrics may be nil.
func New(
	cfg Config,
	store batches.Store,
	client provider.Client,
	renderer *prompts.Renderer,
	clk clock.Clock,
	m *metrics.Collector,
	logger *slog.Logger,
) *Submitter {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	cfg.Retry.Retryable = provider.IsRetryable

	return &Submitter{
		cfg:      cfg,
		store:    store,
		client:   client,
		renderer: renderer,
		clock:    clk,
		metrics:  m,
		logger:   logger.With("system", "submitter"),
	}
}

// Partition splits items in order into chunks of at most size elements.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 || len(items) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Submit validates list, submits one provider job per chunk, and persists the batch.
// The batch is pending when at least one job was accepted and failed otherwise.
// An unreachable store fails the call before any provider job is created.
func (s *Submitter) Submit(ctx context.Context, list []products.Product) (*batches.Batch, error) {
	if err := products.Validate(list, s.cfg.MaxBatchProducts); err != nil {
		return nil, fmt.Errorf("%w: %w", batches.ErrValidation, err)
	}

	if err := s.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}

	id := batches.NewID()
	logger := s.logger.With("batch_id", id)

	chunks := Partition(list, s.cfg.MaxRequestsPerJob)
	subs := make([]batches.SubBatch, len(chunks))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	offset := 0
	for i, chunk := range chunks {
		start := offset
		offset += len(chunk)
		g.Go(func() error {
			subs[i] = s.submitChunk(ctx, logger, i, start, chunk)
			return nil
		})
	}
	g.Wait()

	now := s.clock.Now()
	b := &batches.Batch{
		ID:             id,
		Status:         batches.StatusPending,
		ProductCount:   len(list),
		SubBatches:     subs,
		PollInterval:   s.cfg.BaseInterval,
		NextPollAt:     now.Add(s.cfg.BaseInterval),
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	accepted := 0
	var firstErr string
	for _, sb := range subs {
		if sb.State == batches.SubSubmitted {
			accepted++
		} else if firstErr == "" {
			firstErr = sb.Error
		}
	}

	if accepted == 0 {
		b.Status = batches.StatusFailed
		b.Reason = "provider rejected every sub-batch: " + firstErr
	}

	// accepted jobs are already billed; persist even if the caller went away
	if err := s.store.Create(context.WithoutCancel(ctx), b, list); err != nil {
		logger.Error("persist batch failed, provider jobs orphaned",
			"handles", b.Outstanding(),
			"error", err,
		)
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	s.metrics.BatchSubmitted(string(b.Status))
	logger.Info("batch submitted",
		"status", b.Status,
		"products", b.ProductCount,
		"sub_batches", len(subs),
		"accepted", accepted,
	)

	return b, nil
}

func (s *Submitter) submitChunk(
	ctx context.Context,
	logger *slog.Logger,
	index, offset int,
	chunk []products.Product,
) batches.SubBatch {
	sb := batches.SubBatch{
		Index: index,
		Items: make([]batches.Item, len(chunk)),
		State: batches.SubFailed,
	}

	requests := make([]provider.Request, len(chunk))
	for j, p := range chunk {
		customID := strconv.Itoa(offset + j)
		sb.Items[j] = batches.Item{CustomID: customID, ProductID: p.ID}

		prompt, err := s.renderer.Render(p)
		if err != nil {
			sb.Error = fmt.Sprintf("render product %s: %v", p.ID, err)
			s.metrics.SubBatch("failed")
			return sb
		}
		requests[j] = provider.Request{CustomID: customID, Prompt: prompt}
	}

	policy := s.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("provider submit failed, retrying",
			"sub_batch", index,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	var job *provider.Job
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		job, err = s.client.Submit(ctx, requests)
		return err
	})
	if err != nil {
		logger.Error("sub-batch rejected", "sub_batch", index, "error", err)
		sb.Error = err.Error()
		s.metrics.SubBatch("failed")
		return sb
	}

	submitted := s.clock.Now()
	sb.Handle = job.ID
	sb.State = batches.SubSubmitted
	sb.ProviderStatus = job.ProcessingStatus
	sb.SubmittedAt = &submitted
	s.metrics.SubBatch("accepted")
	return sb
}
