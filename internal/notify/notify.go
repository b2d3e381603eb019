// Package notify delivers signed completion callbacks through a persisted outbox.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/metrics"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/pkg/clock"
	"github.com/JaimeStill/ktru/pkg/signature"
)

// Payload is the JSON body posted to the consumer.
type Payload struct {
	BatchID        string              `json:"batch_id"`
	Status         batches.Status      `json:"status"`
	ProductCount   int                 `json:"product_count"`
	ProcessedCount int                 `json:"processed_count"`
	Completed      bool                `json:"completed"`
	Reason         string              `json:"reason"`
	Products       []products.Enriched `json:"products,omitempty"`
}

// Notifier records and delivers one callback per terminal batch.
type Notifier struct {
	cfg     *Config
	outbox  Outbox
	store   batches.Store
	http    *http.Client
	clock   clock.Clock
	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates a Notifier. metrics may be nil.
func New(
	cfg *Config,
	outbox Outbox,
	store batches.Store,
	clk clock.Clock,
	m *metrics.Collector,
	logger *slog.Logger,
) *Notifier {
	return &Notifier{
		cfg:     cfg,
		outbox:  outbox,
		store:   store,
		http:    &http.Client{},
		clock:   clk,
		metrics: m,
		logger:  logger.With("system", "notifier"),
	}
}

// Enabled reports whether a callback URL is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.URL != ""
}

// Notify records a callback for b and makes a first delivery attempt.
// A batch that already has a record is not notified again.
// Delivery failures are retried by the relay and never returned.
func (n *Notifier) Notify(ctx context.Context, b *batches.Batch) error {
	if !n.Enabled() {
		n.logger.Debug("callback url not configured, skipping", "batch_id", b.ID)
		return nil
	}

	payload, err := n.buildPayload(ctx, b)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}

	now := n.clock.Now()
	rec := &Record{
		BatchID:       b.ID,
		URL:           n.cfg.URL,
		Payload:       data,
		Signature:     signature.Sign([]byte(n.cfg.Secret), data),
		Status:        RecordPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	stored, err := n.outbox.Put(ctx, rec)
	if err != nil {
		return fmt.Errorf("record callback: %w", err)
	}
	if !stored {
		n.logger.Info("callback already recorded", "batch_id", b.ID)
		return nil
	}

	n.attempt(ctx, rec)
	return nil
}

// Deliver attempts a pending record once. Records that are not pending are left alone.
func (n *Notifier) Deliver(ctx context.Context, batchID string) error {
	rec, err := n.outbox.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if rec.Status != RecordPending {
		return nil
	}

	n.attempt(ctx, rec)
	return nil
}

func (n *Notifier) buildPayload(ctx context.Context, b *batches.Batch) (*Payload, error) {
	p := &Payload{
		BatchID:        b.ID,
		Status:         b.Status,
		ProductCount:   b.ProductCount,
		ProcessedCount: b.ProcessedCount,
		Completed:      b.Completed(),
		Reason:         b.Reason,
	}

	if !n.cfg.IncludeProducts {
		return p, nil
	}

	enriched, err := Enrich(ctx, n.store, b.ID)
	if err != nil {
		return nil, err
	}
	p.Products = enriched
	return p, nil
}

// Enrich joins a batch's products with their classification results.
// Products without a result carry a null code.
func Enrich(ctx context.Context, store batches.Store, batchID string) ([]products.Enriched, error) {
	list, err := store.Products(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	results, err := store.Results(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	out := make([]products.Enriched, len(list))
	for i, p := range list {
		out[i] = products.Enriched{Product: p}
		if r, ok := results[p.ID]; ok {
			out[i].KtruCode = r.Code
		}
	}
	return out, nil
}

func (n *Notifier) attempt(ctx context.Context, rec *Record) {
	logger := n.logger.With("batch_id", rec.BatchID, "attempt", rec.Attempts+1)

	err := n.post(ctx, rec)

	now := n.clock.Now()
	rec.Attempts++
	rec.LastAttemptAt = &now

	switch {
	case err == nil:
		rec.Status = RecordSent
		rec.SentAt = &now
		rec.LastError = ""
		n.metrics.Notification("sent")
		logger.Info("callback delivered")
	case rec.Attempts >= n.cfg.MaxAttempts:
		rec.Status = RecordFailed
		rec.LastError = err.Error()
		n.metrics.Notification("failed")
		logger.Error("callback abandoned", "error", fmt.Errorf("%w: %w", batches.ErrNotification, err))
	default:
		rec.LastError = err.Error()
		rec.NextAttemptAt = now.Add(n.cfg.RetryDelay(rec.Attempts))
		n.metrics.Notification("retry")
		logger.Warn("callback delivery failed", "next_attempt_at", rec.NextAttemptAt, "error", err)
	}

	if err := n.outbox.Save(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("save callback record failed", "error", err)
	}
}

func (n *Notifier) post(ctx context.Context, rec *Record) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.TimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.URL, bytes.NewReader(rec.Payload))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, rec.Signature)
	req.Header.Set("X-Batch-ID", rec.BatchID)

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}
