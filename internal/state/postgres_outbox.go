package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JaimeStill/ktru/internal/notify"
	"github.com/JaimeStill/ktru/pkg/repository"
)

const recordColumns = `batch_id, url, payload, signature, attempts, status, last_error,
	last_attempt_at, next_attempt_at, created_at, sent_at`

func scanRecord(s repository.Scanner) (notify.Record, error) {
	var (
		r       notify.Record
		payload []byte
		status  string
	)
	err := s.Scan(
		&r.BatchID,
		&r.URL,
		&payload,
		&r.Signature,
		&r.Attempts,
		&status,
		&r.LastError,
		&r.LastAttemptAt,
		&r.NextAttemptAt,
		&r.CreatedAt,
		&r.SentAt,
	)
	r.Payload = payload
	r.Status = notify.RecordStatus(status)
	return r, err
}

type postgresOutbox struct {
	db *sql.DB
}

// NewPostgresOutbox creates a callback outbox backed by the callbacks table.
func NewPostgresOutbox(db *sql.DB) notify.Outbox {
	return &postgresOutbox{db: db}
}

func (o *postgresOutbox) Put(ctx context.Context, rec *notify.Record) (bool, error) {
	res, err := o.db.ExecContext(ctx, `
		INSERT INTO callbacks(`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (batch_id) DO NOTHING`,
		rec.BatchID, rec.URL, []byte(rec.Payload), rec.Signature, rec.Attempts, string(rec.Status),
		rec.LastError, rec.LastAttemptAt, rec.NextAttemptAt, rec.CreatedAt, rec.SentAt,
	)
	if err != nil {
		return false, unavailable("put callback record", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("put callback record", err)
	}
	return n == 1, nil
}

func (o *postgresOutbox) Get(ctx context.Context, batchID string) (*notify.Record, error) {
	r, err := repository.QueryOne(ctx, o.db,
		"SELECT "+recordColumns+" FROM callbacks WHERE batch_id = $1",
		[]any{batchID},
		scanRecord,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notify.ErrRecordNotFound
	}
	if err != nil {
		return nil, unavailable("get callback record", err)
	}
	return &r, nil
}

func (o *postgresOutbox) Save(ctx context.Context, rec *notify.Record) error {
	err := repository.ExecExpectOne(ctx, o.db, `
		UPDATE callbacks SET attempts = $2, status = $3, last_error = $4,
			last_attempt_at = $5, next_attempt_at = $6, sent_at = $7
		WHERE batch_id = $1`,
		rec.BatchID, rec.Attempts, string(rec.Status), rec.LastError,
		rec.LastAttemptAt, rec.NextAttemptAt, rec.SentAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("save callback record: %w", err)
	}
	return nil
}

func (o *postgresOutbox) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := repository.QueryMany(ctx, o.db, `
		SELECT batch_id FROM callbacks
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2`,
		[]any{now, limit},
		func(sc repository.Scanner) (string, error) {
			var id string
			err := sc.Scan(&id)
			return id, err
		},
	)
	if err != nil {
		return nil, unavailable("query due callbacks", err)
	}
	return ids, nil
}
