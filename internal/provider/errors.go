package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrJobNotFound is returned when the provider has no job for a handle.
var ErrJobNotFound = errors.New("provider job not found")

// Error is a provider API failure.
type Error struct {
	StatusCode int
	Type       string
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code == 529,
		code >= 500:
		return true
	default:
		return false
	}
}

var (
	transientKeywords = []string{
		"timeout", "connection", "network", "rate limit",
		"too many requests", "429", "overloaded", "529", "eof",
	}
	permanentKeywords = []string{
		"invalid", "content policy", "malformed", "400", "format",
	}
)

// IsRetryable reports whether err is worth another attempt.
// Typed provider errors carry their own flag; other errors are classified
// by message, defaulting to retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrJobNotFound) {
		return false
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, k := range transientKeywords {
		if strings.Contains(msg, k) {
			return true
		}
	}
	for _, k := range permanentKeywords {
		if strings.Contains(msg, k) {
			return false
		}
	}
	return true
}
