package products

import (
	"fmt"
	"strings"
)

// Validate checks that list is non-empty, within limit (when limit > 0),
// and that every product has a title and an id unique within the list.
func Validate(list []Product, limit int) error {
	if len(list) == 0 {
		return ErrEmpty
	}
	if limit > 0 && len(list) > limit {
		return fmt.Errorf("%w: %d exceeds maximum of %d", ErrTooMany, len(list), limit)
	}

	seen := make(map[string]int, len(list))
	for i, p := range list {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: item %d", ErrMissingID, i)
		}
		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("%w: product %s", ErrMissingTitle, p.ID)
		}
		if prev, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: %s at items %d and %d", ErrDuplicateID, p.ID, prev, i)
		}
		seen[p.ID] = i
	}
	return nil
}
