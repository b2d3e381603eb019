// Package client is a thin HTTP client for the KTRU classification API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JaimeStill/ktru/internal/orchestrator"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/pkg/middleware"
)

// ErrStatus indicates the API answered with a non-success status.
var ErrStatus = errors.New("unexpected api status")

// Client calls the products endpoints of a KTRU server.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// New creates a Client for the API rooted at baseURL (e.g. http://localhost:8080/api).
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

// Submit posts list as a new batch.
func (c *Client) Submit(ctx context.Context, list []products.Product) (*orchestrator.Envelope, error) {
	body, err := json.Marshal(orchestrator.SubmitRequest{Products: list})
	if err != nil {
		return nil, fmt.Errorf("encode products: %w", err)
	}

	var env orchestrator.Envelope
	if err := c.do(ctx, http.MethodPost, "/products/batch", bytes.NewReader(body), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Get fetches a batch, with enriched products when includeProducts is set.
func (c *Client) Get(ctx context.Context, id string, includeProducts bool) (*orchestrator.Envelope, error) {
	path := "/products/batch/" + url.PathEscape(id)
	if includeProducts {
		path += "?include_products=true"
	}

	var env orchestrator.Envelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Reconcile asks the server to reconcile a batch now.
func (c *Client) Reconcile(ctx context.Context, id string) (*orchestrator.Envelope, error) {
	var env orchestrator.Envelope
	path := "/products/batch/" + url.PathEscape(id) + "/reconcile"
	if err := c.do(ctx, http.MethodPost, path, nil, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Wait polls a batch every interval until it completes, then returns it
// with enriched products.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (*orchestrator.Envelope, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		env, err := c.Get(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if env.Completed {
			return c.Get(ctx, id, true)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(middleware.APIKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%w: %s %s: %d %s", ErrStatus, method, path, resp.StatusCode, e.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
