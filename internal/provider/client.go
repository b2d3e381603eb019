package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const batchesPath = "/v1/messages/batches"

type httpClient struct {
	cfg      *Config
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	observer Observer
}

// New creates a Client from cfg. Calls are paced by a token bucket of
// cfg.RequestsPerSecond. observer may be nil.
func New(cfg *Config, logger *slog.Logger, observer Observer) Client {
	burst := max(1, int(cfg.RequestsPerSecond))
	return &httpClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.TimeoutDuration()},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:   logger.With("system", "provider"),
		observer: observer,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

type params struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
	Tools       []tool    `json:"tools,omitempty"`
}

type batchRequest struct {
	CustomID string `json:"custom_id"`
	Params   params `json:"params"`
}

type createBody struct {
	Requests []batchRequest `json:"requests"`
}

type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *httpClient) Submit(ctx context.Context, requests []Request) (*Job, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("submit job: no requests")
	}

	body := createBody{Requests: make([]batchRequest, len(requests))}
	for i, r := range requests {
		p := params{
			Model:       c.cfg.Model,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: 0,
			Messages:    []message{{Role: "user", Content: r.Prompt}},
		}
		if c.cfg.WebSearch {
			p.Tools = []tool{{
				Type:    "web_search_20250305",
				Name:    "web_search",
				MaxUses: c.cfg.WebSearchMaxUses,
			}}
		}
		body.Requests[i] = batchRequest{CustomID: r.CustomID, Params: p}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	var job Job
	if err := c.do(ctx, "submit", http.MethodPost, c.cfg.BaseURL+batchesPath, data, &job); err != nil {
		return nil, err
	}

	c.logger.Info("job submitted", "handle", job.ID, "requests", len(requests))
	return &job, nil
}

func (c *httpClient) Status(ctx context.Context, handle string) (*Job, error) {
	var job Job
	if err := c.do(ctx, "status", http.MethodGet, c.cfg.BaseURL+batchesPath+"/"+handle, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *httpClient) Results(ctx context.Context, job *Job) (*ResultSet, error) {
	url := job.ResultsURL
	if url == "" {
		url = c.cfg.BaseURL + batchesPath + "/" + job.ID + "/results"
	}

	var raw []byte
	if err := c.do(ctx, "results", http.MethodGet, url, nil, &raw); err != nil {
		return nil, err
	}

	items, err := DecodeResults(raw)
	if err != nil {
		return nil, err
	}
	return &ResultSet{Items: items, Raw: raw}, nil
}

// do performs one paced call. When out is *[]byte the body is returned verbatim.
func (c *httpClient) do(ctx context.Context, op, method, url string, body []byte, out any) (err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: wait for rate limiter: %w", op, err)
	}

	start := time.Now()
	defer func() {
		if c.observer == nil {
			return
		}
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.observer.ObserveProviderRequest(op, outcome, time.Since(start))
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", c.cfg.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrJobNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %w", op, decodeError(resp.StatusCode, payload))
	}

	if raw, ok := out.(*[]byte); ok {
		*raw = payload
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func decodeError(status int, payload []byte) *Error {
	e := &Error{StatusCode: status, Retryable: retryableStatus(status)}

	var body apiError
	if err := json.Unmarshal(payload, &body); err == nil && body.Error.Message != "" {
		e.Type = body.Error.Type
		e.Message = body.Error.Message
		if body.Error.Type == "overloaded_error" || body.Error.Type == "rate_limit_error" {
			e.Retryable = true
		}
		return e
	}

	e.Message = strings.TrimSpace(string(payload))
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

type resultLine struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    ResultType `json:"type"`
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
		Error json.RawMessage `json:"error"`
	} `json:"result"`
}

// DecodeResults parses a results JSONL document.
// For succeeded requests the last text block is taken as the answer.
func DecodeResults(raw []byte) ([]Result, error) {
	var items []Result

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rl resultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			return nil, fmt.Errorf("decode result line: %w", err)
		}

		item := Result{CustomID: rl.CustomID, Type: rl.Result.Type}
		switch rl.Result.Type {
		case ResultSucceeded:
			for _, block := range rl.Result.Message.Content {
				if block.Type == "text" {
					item.Text = block.Text
				}
			}
		case ResultErrored:
			item.Error = describeItemError(rl.Result.Error)
		default:
			item.Error = string(rl.Result.Type)
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return items, nil
}

func describeItemError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "errored"
	}

	var nested apiError
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Type + ": " + nested.Error.Message
	}

	var flat struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Message != "" {
		return flat.Type + ": " + flat.Message
	}
	return string(raw)
}
