// Package state implements the batch store and callback outbox on Redis and PostgreSQL.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/pkg/pagination"
)

const maxTxRetries = 16

type redisStore struct {
	client     *redis.Client
	prefix     string
	logger     *slog.Logger
	pagination pagination.Config
}

// NewRedis creates a batch store backed by Redis.
//
// Layout under prefix:
//
//	batch:<id>           HASH   batch header
//	batch:<id>:products  LIST   product JSON in input order
//	batch:<id>:results   HASH   product id -> result JSON (HSETNX)
//	batches:active       ZSET   non-terminal ids scored by next poll (ms)
//	batches:index        ZSET   all ids scored by creation (ms)
//	handles              HASH   provider handle -> batch id
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger, pagination pagination.Config) batches.Store {
	return &redisStore{
		client:     client,
		prefix:     prefix,
		logger:     logger.With("system", "state", "driver", "redis"),
		pagination: pagination,
	}
}

func (s *redisStore) batchKey(id string) string    { return s.prefix + ":batch:" + id }
func (s *redisStore) productsKey(id string) string { return s.batchKey(id) + ":products" }
func (s *redisStore) resultsKey(id string) string  { return s.batchKey(id) + ":results" }
func (s *redisStore) activeKey() string            { return s.prefix + ":batches:active" }
func (s *redisStore) indexKey() string             { return s.prefix + ":batches:index" }
func (s *redisStore) handlesKey() string           { return s.prefix + ":handles" }

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping redis", err)
	}
	return nil
}

func (s *redisStore) Create(ctx context.Context, b *batches.Batch, items []products.Product) error {
	header, err := encodeHeader(b)
	if err != nil {
		return err
	}

	encoded := make([]any, len(items))
	for i, p := range items {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode product %s: %w", p.ID, err)
		}
		encoded[i] = data
	}

	key := s.batchKey(b.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return batches.ErrDuplicate
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, header)
			if len(encoded) > 0 {
				pipe.RPush(ctx, s.productsKey(b.ID), encoded...)
			}
			for _, sb := range b.SubBatches {
				if sb.Handle != "" {
					pipe.HSet(ctx, s.handlesKey(), sb.Handle, b.ID)
				}
			}
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(b.CreatedAt.UnixMilli()), Member: b.ID})
			if b.Scheduled() {
				pipe.ZAdd(ctx, s.activeKey(), redis.Z{Score: float64(b.NextPollAt.UnixMilli()), Member: b.ID})
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, batches.ErrDuplicate) {
		return err
	}
	if err != nil {
		return unavailable("create batch", err)
	}

	s.logger.Info("batch stored", "batch_id", b.ID, "status", b.Status, "products", len(items))
	return nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*batches.Batch, error) {
	fields, err := s.client.HGetAll(ctx, s.batchKey(id)).Result()
	if err != nil {
		return nil, unavailable("get batch", err)
	}
	if len(fields) == 0 {
		return nil, batches.ErrNotFound
	}
	return decodeHeader(fields)
}

func (s *redisStore) Products(ctx context.Context, id string) ([]products.Product, error) {
	raw, err := s.client.LRange(ctx, s.productsKey(id), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list products", err)
	}

	if len(raw) == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	list := make([]products.Product, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal([]byte(r), &list[i]); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
	}
	return list, nil
}

func (s *redisStore) Results(ctx context.Context, id string) (map[string]batches.ClassificationResult, error) {
	raw, err := s.client.HGetAll(ctx, s.resultsKey(id)).Result()
	if err != nil {
		return nil, unavailable("get results", err)
	}

	results := make(map[string]batches.ClassificationResult, len(raw))
	for pid, r := range raw {
		var res batches.ClassificationResult
		if err := json.Unmarshal([]byte(r), &res); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", pid, err)
		}
		results[pid] = res
	}
	return results, nil
}

func (s *redisStore) Update(ctx context.Context, id string, fn batches.UpdateFunc) (*batches.Batch, error) {
	key := s.batchKey(id)

	for range maxTxRetries {
		var (
			updated *batches.Batch
			failure error
		)

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				failure = batches.ErrNotFound
				return failure
			}

			b, err := decodeHeader(fields)
			if err != nil {
				failure = err
				return failure
			}

			change, err := fn(b)
			if errors.Is(err, batches.ErrNoChange) {
				updated, failure = decodeHeader(fields)
				return failure
			}
			if err != nil {
				failure = err
				return failure
			}

			b.UpdatedAt = time.Now().UTC()
			header, err := encodeHeader(b)
			if err != nil {
				failure = err
				return failure
			}

			results, err := encodeResults(change)
			if err != nil {
				failure = err
				return failure
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, header)
				for pid, data := range results {
					pipe.HSetNX(ctx, s.resultsKey(id), pid, data)
				}
				if b.Scheduled() {
					pipe.ZAdd(ctx, s.activeKey(), redis.Z{Score: float64(b.NextPollAt.UnixMilli()), Member: id})
				} else {
					pipe.ZRem(ctx, s.activeKey(), id)
				}
				return nil
			})
			if err != nil {
				return err
			}

			updated = b
			return nil
		}, key)

		switch {
		case failure != nil:
			return nil, failure
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			s.logger.Debug("batch update conflict, retrying", "batch_id", id)
		default:
			return nil, unavailable("update batch", err)
		}
	}

	return nil, fmt.Errorf("update batch %s: %w: too many conflicts", id, batches.ErrStoreUnavailable)
}

func (s *redisStore) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.activeKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable("query due batches", err)
	}
	return ids, nil
}

func (s *redisStore) Lookup(ctx context.Context, handle string) (string, error) {
	id, err := s.client.HGet(ctx, s.handlesKey(), handle).Result()
	if errors.Is(err, redis.Nil) {
		return "", batches.ErrNotFound
	}
	if err != nil {
		return "", unavailable("lookup handle", err)
	}
	return id, nil
}

func (s *redisStore) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters batches.Filters,
) (*pagination.PageResult[batches.Batch], error) {
	page.Normalize(s.pagination)

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list batches", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.batchKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list batches", err)
	}

	all := make([]batches.Batch, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		b, err := decodeHeader(fields)
		if err != nil {
			return nil, err
		}
		if filters.Status != nil && string(b.Status) != *filters.Status {
			continue
		}
		if page.Search != nil && *page.Search != "" && !containsFold(b.ID, *page.Search) {
			continue
		}
		all = append(all, *b)
	}

	if sort := page.Sort.Allowed(sortableFields...); len(sort) > 0 {
		slices.SortStableFunc(all, compareBatches(sort))
	}

	result := pagination.Slice(all, page)
	return &result, nil
}

func encodeHeader(b *batches.Batch) (map[string]any, error) {
	subs, err := json.Marshal(b.SubBatches)
	if err != nil {
		return nil, fmt.Errorf("encode sub-batches: %w", err)
	}

	notified := ""
	if b.NotifiedAt != nil {
		notified = strconv.FormatInt(b.NotifiedAt.UnixMilli(), 10)
	}

	return map[string]any{
		"id":               b.ID,
		"status":           string(b.Status),
		"product_count":    b.ProductCount,
		"processed_count":  b.ProcessedCount,
		"reason":           b.Reason,
		"sub_batches":      subs,
		"poll_interval":    int64(b.PollInterval),
		"idle_polls":       b.IdlePolls,
		"next_poll_at":     b.NextPollAt.UnixMilli(),
		"last_activity_at": b.LastActivityAt.UnixMilli(),
		"created_at":       b.CreatedAt.UnixMilli(),
		"updated_at":       b.UpdatedAt.UnixMilli(),
		"notified_at":      notified,
	}, nil
}

func decodeHeader(fields map[string]string) (*batches.Batch, error) {
	b := &batches.Batch{
		ID:     fields["id"],
		Status: batches.Status(fields["status"]),
		Reason: fields["reason"],
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"product_count", &b.ProductCount},
		{"processed_count", &b.ProcessedCount},
		{"idle_polls", &b.IdlePolls},
	}
	for _, f := range ints {
		n, err := strconv.Atoi(fields[f.field])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.field, err)
		}
		*f.dst = n
	}

	times := []struct {
		field string
		dst   *time.Time
	}{
		{"next_poll_at", &b.NextPollAt},
		{"last_activity_at", &b.LastActivityAt},
		{"created_at", &b.CreatedAt},
		{"updated_at", &b.UpdatedAt},
	}
	for _, f := range times {
		ms, err := strconv.ParseInt(fields[f.field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.field, err)
		}
		*f.dst = time.UnixMilli(ms).UTC()
	}

	interval, err := strconv.ParseInt(fields["poll_interval"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode poll_interval: %w", err)
	}
	b.PollInterval = time.Duration(interval)

	if v := fields["notified_at"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode notified_at: %w", err)
		}
		t := time.UnixMilli(ms).UTC()
		b.NotifiedAt = &t
	}

	if err := json.Unmarshal([]byte(fields["sub_batches"]), &b.SubBatches); err != nil {
		return nil, fmt.Errorf("decode sub-batches: %w", err)
	}

	return b, nil
}
