package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/JaimeStill/ktru/internal/provider"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(t *testing.T, baseURL string) *provider.Config {
	t.Helper()
	cfg := &provider.Config{BaseURL: baseURL, APIKey: "sk-test", RequestsPerSecond: 1000}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	return cfg
}

type observed struct {
	mu    sync.Mutex
	calls []string
}

func (o *observed) ObserveProviderRequest(op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op+":"+outcome)
}

func TestSubmit(t *testing.T) {
	var captured struct {
		Requests []struct {
			CustomID string `json:"custom_id"`
			Params   struct {
				Model       string  `json:"model"`
				MaxTokens   int     `json:"max_tokens"`
				Temperature float64 `json:"temperature"`
				Messages    []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
				Tools []map[string]any `json:"tools"`
			} `json:"params"`
		} `json:"requests"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/messages/batches" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"id":"msgbatch_01","type":"message_batch","processing_status":"in_progress","request_counts":{"processing":2}}`)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.WebSearch = true
	obs := &observed{}
	client := provider.New(cfg, discard, obs)

	job, err := client.Submit(context.Background(), []provider.Request{
		{CustomID: "0", Prompt: "первый"},
		{CustomID: "1", Prompt: "второй"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "msgbatch_01" || job.Ended() || job.RequestCounts.Processing != 2 {
		t.Errorf("job = %+v", job)
	}

	if len(captured.Requests) != 2 {
		t.Fatalf("requests = %d", len(captured.Requests))
	}
	r := captured.Requests[1]
	if r.CustomID != "1" || r.Params.Model != cfg.Model || r.Params.Temperature != 0 || r.Params.MaxTokens != 32768 {
		t.Errorf("params = %+v", r.Params)
	}
	if len(r.Params.Messages) != 1 || r.Params.Messages[0].Content != "второй" || r.Params.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", r.Params.Messages)
	}
	if len(r.Params.Tools) != 1 || r.Params.Tools[0]["name"] != "web_search" {
		t.Errorf("tools = %+v", r.Params.Tools)
	}

	if len(obs.calls) != 1 || obs.calls[0] != "submit:success" {
		t.Errorf("observer calls = %v", obs.calls)
	}
}

func TestSubmitEmpty(t *testing.T) {
	client := provider.New(testConfig(t, "http://unused"), discard, nil)
	if _, err := client.Submit(context.Background(), nil); err == nil {
		t.Error("expected error for empty submission")
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		notFound  bool
	}{
		{"not found", http.StatusNotFound, `{}`, false, true},
		{"rate limited", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, true, false},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, true, false},
		{"server error", http.StatusInternalServerError, `oops`, true, false},
		{"bad request", http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, false, false},
		{"unauthorized", http.StatusUnauthorized, ``, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := provider.New(testConfig(t, srv.URL), discard, nil)
			_, err := client.Status(context.Background(), "msgbatch_x")
			if err == nil {
				t.Fatal("expected error")
			}

			if got := errors.Is(err, provider.ErrJobNotFound); got != tt.notFound {
				t.Errorf("ErrJobNotFound = %v, want %v", got, tt.notFound)
			}
			if got := provider.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v (%v)", got, tt.retryable, err)
			}

			var pe *provider.Error
			if !tt.notFound && (!errors.As(err, &pe) || pe.StatusCode != tt.status) {
				t.Errorf("expected *provider.Error with status %d, got %v", tt.status, err)
			}
		})
	}
}

const resultsJSONL = `{"custom_id":"0","result":{"type":"succeeded","message":{"content":[{"type":"text","text":"ищу"},{"type":"server_tool_use"},{"type":"text","text":"26.20.11.110-00000001"}]}}}
{"custom_id":"1","result":{"type":"errored","error":{"type":"error","error":{"type":"invalid_request_error","message":"too long"}}}}

{"custom_id":"2","result":{"type":"expired"}}
`

func TestStatusAndResults(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/messages/batches/msgbatch_01":
			fmt.Fprintf(w, `{"id":"msgbatch_01","processing_status":"ended","results_url":"%s/files/results.jsonl","request_counts":{"succeeded":1,"errored":1,"expired":1}}`, srv.URL)
		case "/files/results.jsonl":
			if r.Header.Get("x-api-key") == "" {
				t.Error("results fetched without api key")
			}
			fmt.Fprint(w, resultsJSONL)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := provider.New(testConfig(t, srv.URL), discard, nil)
	ctx := context.Background()

	job, err := client.Status(ctx, "msgbatch_01")
	if err != nil {
		t.Fatal(err)
	}
	if !job.Ended() {
		t.Fatalf("job not ended: %+v", job)
	}

	set, err := client.Results(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if string(set.Raw) != resultsJSONL {
		t.Error("raw results not preserved")
	}
	if len(set.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(set.Items))
	}

	if it := set.Items[0]; it.Type != provider.ResultSucceeded || it.Text != "26.20.11.110-00000001" {
		t.Errorf("item 0 = %+v", it)
	}
	if it := set.Items[1]; it.Type != provider.ResultErrored || it.Error != "invalid_request_error: too long" {
		t.Errorf("item 1 = %+v", it)
	}
	if it := set.Items[2]; it.Type != provider.ResultExpired || it.Error != "expired" {
		t.Errorf("item 2 = %+v", it)
	}
}

func TestDecodeResultsMalformed(t *testing.T) {
	if _, err := provider.DecodeResults([]byte("{not json}\n")); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("Overloaded"), true},
		{errors.New("invalid prompt format"), false},
		{errors.New("something odd"), true},
		{&provider.Error{StatusCode: 400, Retryable: false}, false},
		{fmt.Errorf("submit: %w", &provider.Error{StatusCode: 503, Retryable: true}), true},
	}

	for _, tt := range tests {
		if got := provider.IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg provider.Config
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	if cfg.MaxRequestsPerJob != 25 || cfg.SubmitConcurrency != 4 || cfg.TimeoutDuration() != 300*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry defaults not applied: %+v", cfg.Retry)
	}
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("TEST_PROVIDER_MODEL", "claude-test")
	t.Setenv("TEST_PROVIDER_MAX_REQUESTS", "7")
	t.Setenv("TEST_PROVIDER_WEB_SEARCH", "true")

	var cfg provider.Config
	err := cfg.Finalize(&provider.Env{
		Model:             "TEST_PROVIDER_MODEL",
		MaxRequestsPerJob: "TEST_PROVIDER_MAX_REQUESTS",
		WebSearch:         "TEST_PROVIDER_WEB_SEARCH",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "claude-test" || cfg.MaxRequestsPerJob != 7 || !cfg.WebSearch {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := provider.Config{Timeout: "soon"}
	if err := cfg.Finalize(nil); err == nil {
		t.Error("expected invalid timeout error")
	}
}
