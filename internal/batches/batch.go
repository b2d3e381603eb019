// Package batches defines the batch model, its status machine, and the
// storage contract shared by the submitter, reconciler, and facade.
package batches

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/ktru/internal/parser"
)

// IDPrefix prefixes every batch id.
const IDPrefix = "product_batch_"

// ReasonAbandoned is recorded when a batch exceeds its maximum age.
const ReasonAbandoned = "abandoned"

// NewID returns a fresh batch id.
func NewID() string {
	return IDPrefix + uuid.NewString()
}

// Item maps a provider custom_id back to a product.
type Item struct {
	CustomID  string `json:"custom_id"`
	ProductID string `json:"product_id"`
}

// SubBatch is one provider job carrying a contiguous chunk of the batch.
type SubBatch struct {
	Index          int        `json:"index"`
	Handle         string     `json:"handle,omitempty"`
	Items          []Item     `json:"items"`
	State          SubState   `json:"state"`
	Error          string     `json:"error,omitempty"`
	ProviderStatus string     `json:"provider_status,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	IngestedAt     *time.Time `json:"ingested_at,omitempty"`
}

// Batch is the persisted unit of work.
type Batch struct {
	ID             string        `json:"batch_id"`
	Status         Status        `json:"status"`
	ProductCount   int           `json:"product_count"`
	ProcessedCount int           `json:"processed_count"`
	Reason         string        `json:"reason,omitempty"`
	SubBatches     []SubBatch    `json:"sub_batches"`
	PollInterval   time.Duration `json:"poll_interval"`
	IdlePolls      int           `json:"idle_polls"`
	NextPollAt     time.Time     `json:"next_poll_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	NotifiedAt     *time.Time    `json:"notified_at,omitempty"`
}

// Completed reports whether the batch reached a terminal status.
func (b *Batch) Completed() bool {
	return b.Status.Terminal()
}

// Scheduled reports whether the batch still needs reconciler passes: it is
// not terminal yet, or its completion has not been handed to the notifier.
func (b *Batch) Scheduled() bool {
	return !b.Status.Terminal() || b.NotifiedAt == nil
}

// SubBatch returns the sub-batch registered under handle.
func (b *Batch) SubBatch(handle string) (*SubBatch, bool) {
	for i := range b.SubBatches {
		if b.SubBatches[i].Handle != "" && b.SubBatches[i].Handle == handle {
			return &b.SubBatches[i], true
		}
	}
	return nil, false
}

// Outstanding returns the handles of sub-batches still awaiting results.
func (b *Batch) Outstanding() []string {
	handles := make([]string, 0, len(b.SubBatches))
	for _, sb := range b.SubBatches {
		if sb.Handle != "" && !sb.State.Settled() {
			handles = append(handles, sb.Handle)
		}
	}
	return handles
}

// Recompute derives the status from the sub-batch states.
// It never moves a batch out of a terminal status.
func (b *Batch) Recompute() Status {
	if b.Status.Terminal() {
		return b.Status
	}
	if len(b.SubBatches) == 0 {
		return b.Status
	}

	settled, ingested, failed := 0, 0, 0
	for _, sb := range b.SubBatches {
		switch sb.State {
		case SubIngested:
			settled++
			ingested++
		case SubFailed:
			settled++
			failed++
		}
	}

	switch {
	case settled == len(b.SubBatches) && failed == 0:
		return StatusCompleted
	case settled == len(b.SubBatches):
		return StatusPartiallyFailed
	case ingested > 0:
		return StatusProcessing
	default:
		return StatusPending
	}
}

// Advance moves the batch to next when the status machine permits it.
func (b *Batch) Advance(next Status) error {
	if !b.Status.CanAdvance(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, b.Status, next)
	}
	b.Status = next
	return nil
}

// AddProcessed increments processed_count, bounded by product_count.
func (b *Batch) AddProcessed(n int) {
	if n <= 0 {
		return
	}
	b.ProcessedCount = min(b.ProcessedCount+n, b.ProductCount)
}

// ClassificationResult is the immutable outcome for one product.
type ClassificationResult struct {
	ProductID    string         `json:"product_id"`
	Code         *string        `json:"ktru_code"`
	Outcome      parser.Outcome `json:"outcome"`
	Raw          string         `json:"raw,omitempty"`
	Error        string         `json:"error,omitempty"`
	ClassifiedAt time.Time      `json:"classified_at"`
}

// Change carries the side data written together with a batch update.
type Change struct {
	Results []ClassificationResult
}
