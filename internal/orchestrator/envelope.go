package orchestrator

import (
	"time"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/products"
)

// Envelope is the client-facing view of a batch.
type Envelope struct {
	BatchID        string              `json:"batch_id"`
	Status         batches.Status      `json:"status"`
	ProductCount   int                 `json:"product_count"`
	ProcessedCount int                 `json:"processed_count"`
	Completed      bool                `json:"completed"`
	Reason         string              `json:"reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Products       []products.Enriched `json:"products,omitempty"`
}

// NewEnvelope projects b into an Envelope.
func NewEnvelope(b *batches.Batch) *Envelope {
	return &Envelope{
		BatchID:        b.ID,
		Status:         b.Status,
		ProductCount:   b.ProductCount,
		ProcessedCount: b.ProcessedCount,
		Completed:      b.Completed(),
		Reason:         b.Reason,
		CreatedAt:      b.CreatedAt,
	}
}

// CallbackEvent is the provider's job-ended notification body.
type CallbackEvent struct {
	Type             string `json:"type"`
	ID               string `json:"id"`
	ProcessingStatus string `json:"processing_status"`
}

// SubmitRequest accepts products either as a bare array or under "products".
type SubmitRequest struct {
	Products []products.Product `json:"products"`
}
