// Package orchestrator is the entry point for batch classification: it
// submits products, exposes batch state, and accepts provider callbacks.
package orchestrator

import (
	"context"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/pkg/pagination"
)

// System defines the public contract for batch orchestration.
type System interface {
	Handler(maxBodySize int64) *Handler

	SubmitBatch(ctx context.Context, list []products.Product) (*Envelope, error)
	GetBatch(ctx context.Context, id string, includeProducts bool) (*Envelope, error)
	ReconcileBatch(ctx context.Context, id string) (*Envelope, error)

	ListBatches(
		ctx context.Context,
		page pagination.PageRequest,
		filters batches.Filters,
	) (*pagination.PageResult[Envelope], error)

	// HandleProviderCallback verifies sig over body before reconciling the job it names.
	HandleProviderCallback(ctx context.Context, body []byte, sig string) error
}
