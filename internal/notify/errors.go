package notify

import "errors"

var (
	ErrRecordNotFound = errors.New("callback record not found")
	ErrDelivery       = errors.New("callback delivery rejected")
)
