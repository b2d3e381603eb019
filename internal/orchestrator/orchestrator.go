package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/notify"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/internal/reconcile"
	"github.com/JaimeStill/ktru/internal/submit"
	"github.com/JaimeStill/ktru/pkg/pagination"
	"github.com/JaimeStill/ktru/pkg/signature"
)

type facade struct {
	submitter     *submit.Submitter
	reconciler    *reconcile.Reconciler
	store         batches.Store
	webhookSecret string
	logger        *slog.Logger
	pagination    pagination.Config
}

// New creates the orchestration facade. An empty webhookSecret rejects
// every provider callback.
func New(
	submitter *submit.Submitter,
	reconciler *reconcile.Reconciler,
	store batches.Store,
	webhookSecret string,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &facade{
		submitter:     submitter,
		reconciler:    reconciler,
		store:         store,
		webhookSecret: webhookSecret,
		logger:        logger.With("system", "orchestrator"),
		pagination:    pagination,
	}
}

func (f *facade) Handler(maxBodySize int64) *Handler {
	return NewHandler(f, f.logger, f.pagination, maxBodySize)
}

func (f *facade) SubmitBatch(ctx context.Context, list []products.Product) (*Envelope, error) {
	b, err := f.submitter.Submit(ctx, list)
	if err != nil {
		return nil, err
	}

	// a batch no provider accepted is terminal at birth; a failed hand-off
	// leaves it scheduled for the next tick
	if err := f.reconciler.Finish(context.WithoutCancel(ctx), b); err != nil {
		f.logger.Warn("finish failed batch deferred", "batch_id", b.ID, "error", err)
	}

	return NewEnvelope(b), nil
}

func (f *facade) GetBatch(ctx context.Context, id string, includeProducts bool) (*Envelope, error) {
	b, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	env := NewEnvelope(b)
	if includeProducts {
		enriched, err := notify.Enrich(ctx, f.store, id)
		if err != nil {
			return nil, err
		}
		env.Products = enriched
	}
	return env, nil
}

func (f *facade) ReconcileBatch(ctx context.Context, id string) (*Envelope, error) {
	b, err := f.reconciler.ReconcileBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(b), nil
}

func (f *facade) ListBatches(
	ctx context.Context,
	page pagination.PageRequest,
	filters batches.Filters,
) (*pagination.PageResult[Envelope], error) {
	if filters.Status != nil && !batches.Status(*filters.Status).Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", batches.ErrValidation, *filters.Status)
	}

	result, err := f.store.List(ctx, page, filters)
	if err != nil {
		return nil, err
	}

	envelopes := make([]Envelope, len(result.Data))
	for i := range result.Data {
		envelopes[i] = *NewEnvelope(&result.Data[i])
	}

	out := pagination.NewPageResult(envelopes, result.Total, result.Page, result.PageSize)
	return &out, nil
}

func (f *facade) HandleProviderCallback(ctx context.Context, body []byte, sig string) error {
	if f.webhookSecret == "" {
		return fmt.Errorf("%w: provider webhook not configured", batches.ErrUnauthorized)
	}
	if err := signature.Verify([]byte(f.webhookSecret), body, sig); err != nil {
		return fmt.Errorf("%w: %w", batches.ErrUnauthorized, err)
	}

	var event CallbackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: decode callback: %w", batches.ErrValidation, err)
	}
	if event.ID == "" {
		return fmt.Errorf("%w: callback missing job id", batches.ErrValidation)
	}

	batchID, err := f.store.Lookup(ctx, event.ID)
	if err != nil {
		return err
	}

	outcome, err := f.reconciler.Reconcile(ctx, batchID, event.ID)
	if err != nil {
		// the poll loop will pick the job up
		f.logger.Warn("callback reconcile failed, scheduling poll",
			"batch_id", batchID,
			"handle", event.ID,
			"error", err,
		)
		f.reconciler.Trigger()
		return nil
	}

	f.logger.Info("provider callback handled",
		"batch_id", batchID,
		"handle", event.ID,
		"outcome", outcome,
	)
	return nil
}
