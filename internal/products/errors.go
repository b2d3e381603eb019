package products

import "errors"

// Validation errors for product lists.
var (
	ErrEmpty        = errors.New("product list is empty")
	ErrTooMany      = errors.New("too many products in batch")
	ErrMissingID    = errors.New("product id is required")
	ErrDuplicateID  = errors.New("duplicate product id")
	ErrMissingTitle = errors.New("product title is required")
)
