package batches

import (
	"errors"
	"net/http"
)

// Domain errors for batch operations.
var (
	ErrValidation        = errors.New("invalid batch request")
	ErrNotFound          = errors.New("batch not found")
	ErrProvider          = errors.New("provider request failed")
	ErrParseAmbiguity    = errors.New("ambiguous classification")
	ErrNotification      = errors.New("callback delivery failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStoreUnavailable  = errors.New("state store unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicate         = errors.New("batch already exists")
)

// MapHTTPStatus maps batch domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrValidation) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrProvider) {
		return http.StatusBadGateway
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ErrNoChange is returned by an UpdateFunc to abort an update without writing.
var ErrNoChange = errors.New("no change")
