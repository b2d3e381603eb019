// Package provider is a client for the Anthropic Message Batches API.
package provider

import (
	"context"
	"time"
)

// Processing statuses reported for a job.
const (
	StatusInProgress = "in_progress"
	StatusCanceling  = "canceling"
	StatusEnded      = "ended"
)

// ResultType is the per-request outcome inside a finished job.
type ResultType string

const (
	ResultSucceeded ResultType = "succeeded"
	ResultErrored   ResultType = "errored"
	ResultCanceled  ResultType = "canceled"
	ResultExpired   ResultType = "expired"
)

// Request is one prompt to evaluate inside a job.
type Request struct {
	CustomID string
	Prompt   string
}

// Counts tallies requests by state.
type Counts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

// Job is the provider's view of a submitted batch.
type Job struct {
	ID               string     `json:"id"`
	ProcessingStatus string     `json:"processing_status"`
	RequestCounts    Counts     `json:"request_counts"`
	ResultsURL       string     `json:"results_url"`
	CreatedAt        time.Time  `json:"created_at"`
	EndedAt          *time.Time `json:"ended_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

// Ended reports whether results are available.
func (j *Job) Ended() bool {
	return j.ProcessingStatus == StatusEnded
}

// Result is the outcome of one request. Text holds the final text block
// of a succeeded message; Error describes any other outcome.
type Result struct {
	CustomID string
	Type     ResultType
	Text     string
	Error    string
}

// ResultSet is the decoded results file plus its raw JSONL bytes.
type ResultSet struct {
	Items []Result
	Raw   []byte
}

// Client submits jobs and retrieves their status and results.
type Client interface {
	Submit(ctx context.Context, requests []Request) (*Job, error)
	Status(ctx context.Context, handle string) (*Job, error)
	Results(ctx context.Context, job *Job) (*ResultSet, error)
}

// Observer receives timing for each provider call.
type Observer interface {
	ObserveProviderRequest(op, outcome string, d time.Duration)
}
