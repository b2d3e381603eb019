package state

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/pkg/query"
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, batches.ErrStoreUnavailable, err)
}

func encodeResults(change *batches.Change) (map[string][]byte, error) {
	results := make(map[string][]byte)
	if change == nil {
		return results, nil
	}

	for _, r := range change.Results {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode result %s: %w", r.ProductID, err)
		}
		results[r.ProductID] = data
	}
	return results, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// sortableFields lists the batch fields List accepts in a sort request.
var sortableFields = []string{"ID", "Status", "ProductCount", "ProcessedCount", "CreatedAt", "UpdatedAt"}

// compareBatches orders batches by the given sort fields.
// Unknown fields compare equal.
func compareBatches(fields []query.SortField) func(a, b batches.Batch) int {
	return func(a, b batches.Batch) int {
		for _, f := range fields {
			var c int
			switch f.Field {
			case "CreatedAt":
				c = a.CreatedAt.Compare(b.CreatedAt)
			case "UpdatedAt":
				c = a.UpdatedAt.Compare(b.UpdatedAt)
			case "Status":
				c = cmp.Compare(a.Status, b.Status)
			case "ProductCount":
				c = cmp.Compare(a.ProductCount, b.ProductCount)
			case "ProcessedCount":
				c = cmp.Compare(a.ProcessedCount, b.ProcessedCount)
			case "ID":
				c = cmp.Compare(a.ID, b.ID)
			}
			if f.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}
