package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/parser"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/pkg/pagination"
	"github.com/JaimeStill/ktru/pkg/query"
	"github.com/JaimeStill/ktru/pkg/repository"
	"github.com/JaimeStill/ktru/pkg/retry"
)

var batchProjection = query.
	NewProjectionMap("public", "batches", "b").
	Project("id", "ID").
	Project("status", "Status").
	Project("product_count", "ProductCount").
	Project("processed_count", "ProcessedCount").
	Project("reason", "Reason").
	Project("sub_batches", "SubBatches").
	Project("poll_interval_ms", "PollInterval").
	Project("idle_polls", "IdlePolls").
	Project("next_poll_at", "NextPollAt").
	Project("last_activity_at", "LastActivityAt").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt").
	Project("notified_at", "NotifiedAt")

var defaultBatchSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

func scanBatch(s repository.Scanner) (batches.Batch, error) {
	var (
		b        batches.Batch
		status   string
		subs     []byte
		interval int64
	)

	err := s.Scan(
		&b.ID,
		&status,
		&b.ProductCount,
		&b.ProcessedCount,
		&b.Reason,
		&subs,
		&interval,
		&b.IdlePolls,
		&b.NextPollAt,
		&b.LastActivityAt,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.NotifiedAt,
	)
	if err != nil {
		return b, err
	}

	b.Status = batches.Status(status)
	b.PollInterval = time.Duration(interval) * time.Millisecond
	if err := json.Unmarshal(subs, &b.SubBatches); err != nil {
		return b, fmt.Errorf("decode sub-batches: %w", err)
	}
	return b, nil
}

func scanResult(s repository.Scanner) (batches.ClassificationResult, error) {
	var (
		r       batches.ClassificationResult
		outcome string
	)
	err := s.Scan(&r.ProductID, &r.Code, &outcome, &r.Raw, &r.Error, &r.ClassifiedAt)
	r.Outcome = parser.Outcome(outcome)
	return r, err
}

// txRetry re-runs a transaction aborted by a serialization failure or deadlock.
var txRetry = retry.Policy{
	MaxAttempts:  3,
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   2,
	Jitter:       true,
	Retryable:    repository.IsRetryable,
}

type postgresStore struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// NewPostgres creates a batch store backed by PostgreSQL.
// Per-batch writes are serialized with SELECT ... FOR UPDATE.
func NewPostgres(db *sql.DB, logger *slog.Logger, pagination pagination.Config) batches.Store {
	return &postgresStore{
		db:         db,
		logger:     logger.With("system", "state", "driver", "postgres"),
		pagination: pagination,
	}
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}

func (s *postgresStore) Create(ctx context.Context, b *batches.Batch, items []products.Product) error {
	subs, err := json.Marshal(b.SubBatches)
	if err != nil {
		return fmt.Errorf("encode sub-batches: %w", err)
	}

	_, err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batches(id, status, product_count, processed_count, reason, sub_batches,
				poll_interval_ms, idle_polls, next_poll_at, last_activity_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			b.ID, string(b.Status), b.ProductCount, b.ProcessedCount, b.Reason, subs,
			b.PollInterval.Milliseconds(), b.IdlePolls, b.NextPollAt, b.LastActivityAt, b.CreatedAt, b.UpdatedAt,
		)
		if err != nil {
			return struct{}{}, err
		}

		for i, p := range items {
			data, err := json.Marshal(p)
			if err != nil {
				return struct{}{}, fmt.Errorf("encode product %s: %w", p.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO batch_products(batch_id, position, product_id, data) VALUES ($1, $2, $3, $4)",
				b.ID, i, p.ID, data,
			); err != nil {
				return struct{}{}, err
			}
		}

		for _, sb := range b.SubBatches {
			if sb.Handle == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO batch_handles(handle, batch_id) VALUES ($1, $2)",
				sb.Handle, b.ID,
			); err != nil {
				return struct{}{}, err
			}
		}

		return struct{}{}, nil
	})

	if err != nil {
		return mapPostgresError("create batch", err)
	}

	s.logger.Info("batch stored", "batch_id", b.ID, "status", b.Status, "products", len(items))
	return nil
}

func (s *postgresStore) Get(ctx context.Context, id string) (*batches.Batch, error) {
	q, args := query.NewBuilder(batchProjection).BuildSingle("ID", id)

	b, err := repository.QueryOne(ctx, s.db, q, args, scanBatch)
	if err != nil {
		return nil, mapPostgresError("get batch", err)
	}
	return &b, nil
}

func (s *postgresStore) Products(ctx context.Context, id string) ([]products.Product, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	list, err := repository.QueryMany(ctx, s.db,
		"SELECT data FROM batch_products WHERE batch_id = $1 ORDER BY position",
		[]any{id},
		func(sc repository.Scanner) (products.Product, error) {
			var (
				data []byte
				p    products.Product
			)
			if err := sc.Scan(&data); err != nil {
				return p, err
			}
			err := json.Unmarshal(data, &p)
			return p, err
		},
	)
	if err != nil {
		return nil, mapPostgresError("list products", err)
	}
	return list, nil
}

func (s *postgresStore) Results(ctx context.Context, id string) (map[string]batches.ClassificationResult, error) {
	list, err := repository.QueryMany(ctx, s.db, `
		SELECT product_id, code, outcome, raw, error, classified_at
		FROM classification_results WHERE batch_id = $1`,
		[]any{id},
		scanResult,
	)
	if err != nil {
		return nil, mapPostgresError("get results", err)
	}

	results := make(map[string]batches.ClassificationResult, len(list))
	for _, r := range list {
		results[r.ProductID] = r
	}
	return results, nil
}

func (s *postgresStore) Update(ctx context.Context, id string, fn batches.UpdateFunc) (*batches.Batch, error) {
	q, args := query.NewBuilder(batchProjection).ForUpdate().BuildSingle("ID", id)

	var (
		failure error
		updated *batches.Batch
	)
	err := retry.Do(ctx, txRetry, func(ctx context.Context) error {
		failure = nil
		var err error
		updated, err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) (*batches.Batch, error) {
			b, err := repository.QueryOne(ctx, tx, q, args, scanBatch)
			if err != nil {
				return nil, err
			}

			change, err := fn(&b)
			if err != nil {
				failure = err
				return nil, err
			}

			b.UpdatedAt = time.Now().UTC()
			subs, err := json.Marshal(b.SubBatches)
			if err != nil {
				return nil, fmt.Errorf("encode sub-batches: %w", err)
			}

			if err := repository.ExecExpectOne(ctx, tx, `
				UPDATE batches SET status = $2, processed_count = $3, reason = $4, sub_batches = $5,
					poll_interval_ms = $6, idle_polls = $7, next_poll_at = $8, last_activity_at = $9,
					updated_at = $10, notified_at = $11
				WHERE id = $1`,
				id, string(b.Status), b.ProcessedCount, b.Reason, subs,
				b.PollInterval.Milliseconds(), b.IdlePolls, b.NextPollAt, b.LastActivityAt,
				b.UpdatedAt, b.NotifiedAt,
			); err != nil {
				return nil, err
			}

			if change != nil {
				for _, r := range change.Results {
					if _, err := tx.ExecContext(ctx, `
						INSERT INTO classification_results(batch_id, product_id, code, outcome, raw, error, classified_at)
						VALUES ($1, $2, $3, $4, $5, $6, $7)
						ON CONFLICT (batch_id, product_id) DO NOTHING`,
						id, r.ProductID, r.Code, string(r.Outcome), r.Raw, r.Error, r.ClassifiedAt,
					); err != nil {
						return nil, err
					}
				}
			}

			return &b, nil
		})
		return err
	})

	if errors.Is(failure, batches.ErrNoChange) {
		return s.Get(ctx, id)
	}
	if failure != nil {
		return nil, failure
	}
	if err != nil {
		return nil, mapPostgresError("update batch", err)
	}
	return updated, nil
}

func (s *postgresStore) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	q, args := query.
		NewBuilder(batchProjection, query.SortField{Field: "NextPollAt"}).
		Select("ID").
		WhereEither(
			func(q *query.Builder) {
				q.WhereIn("Status", string(batches.StatusPending), string(batches.StatusProcessing))
			},
			func(q *query.Builder) { q.WhereNull("NotifiedAt") },
		).
		WhereAtMost("NextPollAt", now).
		BuildList(limit)

	ids, err := repository.QueryMany(ctx, s.db, q, args,
		func(sc repository.Scanner) (string, error) {
			var id string
			err := sc.Scan(&id)
			return id, err
		},
	)
	if err != nil {
		return nil, mapPostgresError("query due batches", err)
	}
	return ids, nil
}

func (s *postgresStore) Lookup(ctx context.Context, handle string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT batch_id FROM batch_handles WHERE handle = $1", handle).Scan(&id)
	if err != nil {
		return "", mapPostgresError("lookup handle", err)
	}
	return id, nil
}

func (s *postgresStore) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters batches.Filters,
) (*pagination.PageResult[batches.Batch], error) {
	page.Normalize(s.pagination)

	qb := query.
		NewBuilder(batchProjection, defaultBatchSort).
		WhereSearch(page.Search, "ID").
		WhereEquals("Status", filters.Status)

	if sort := page.Sort.Allowed(sortableFields...); len(sort) > 0 {
		qb.OrderByFields(sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.Count(ctx, s.db, countSQL, countArgs)
	if err != nil {
		return nil, mapPostgresError("count batches", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	list, err := repository.QueryMany(ctx, s.db, pageSQL, pageArgs, scanBatch)
	if err != nil {
		return nil, mapPostgresError("query batches", err)
	}

	result := pagination.NewPageResult(list, total, page.Page, page.PageSize)
	return &result, nil
}

func mapPostgresError(op string, err error) error {
	mapped := repository.MapError(err, batches.ErrNotFound, batches.ErrDuplicate)
	switch {
	case errors.Is(mapped, batches.ErrNotFound), errors.Is(mapped, batches.ErrDuplicate):
		return mapped
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return unavailable(op, err)
	}
}
