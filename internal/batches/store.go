package batches

import (
	"context"
	"net/url"
	"time"

	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/pkg/pagination"
)

// UpdateFunc mutates a batch inside a serialized read-modify-write.
// Returning a nil Change with a nil error still persists the batch header.
// Returning ErrNoChange leaves the stored batch untouched.
// The function may run more than once when a concurrent writer wins.
type UpdateFunc func(b *Batch) (*Change, error)

// Store persists batches, their products, and their classification results.
type Store interface {
	Create(ctx context.Context, b *Batch, items []products.Product) error
	Get(ctx context.Context, id string) (*Batch, error)
	Products(ctx context.Context, id string) ([]products.Product, error)
	Results(ctx context.Context, id string) (map[string]ClassificationResult, error)

	// Update serializes writers per batch id. Results in the returned Change
	// are written only when absent, so a result is never overwritten.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Batch, error)

	// Due returns ids of scheduled batches whose next poll is at or before now:
	// non-terminal batches and terminal batches not yet handed to the notifier.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Lookup resolves a provider handle to its batch id.
	Lookup(ctx context.Context, handle string) (string, error)

	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Batch], error)

	Ping(ctx context.Context) error
}

// Filters narrows batch listings.
type Filters struct {
	Status *string `json:"status,omitempty"`
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters
	if s := values.Get("status"); s != "" {
		f.Status = &s
	}
	return f
}
