package notify

import (
	"context"
	"encoding/json"
	"time"
)

// RecordStatus is the delivery state of a callback record.
type RecordStatus string

const (
	RecordPending RecordStatus = "pending"
	RecordSent    RecordStatus = "sent"
	RecordFailed  RecordStatus = "failed"
)

// Record is a persisted callback awaiting or finished with delivery.
// There is at most one record per batch.
type Record struct {
	BatchID       string          `json:"batch_id"`
	URL           string          `json:"url"`
	Payload       json.RawMessage `json:"payload"`
	Signature     string          `json:"signature"`
	Attempts      int             `json:"attempts"`
	Status        RecordStatus    `json:"status"`
	LastError     string          `json:"last_error,omitempty"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
}

// Outbox persists callback records so delivery survives restarts.
type Outbox interface {
	// Put stores rec unless a record for the same batch exists.
	// It reports whether rec was stored.
	Put(ctx context.Context, rec *Record) (bool, error)
	Get(ctx context.Context, batchID string) (*Record, error)
	// Save overwrites rec. Records that are no longer pending leave the due index.
	Save(ctx context.Context, rec *Record) error
	// Due returns batch ids of pending records whose next attempt is at or before now.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
}
