package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/ktru/internal/notify"
)

type redisOutbox struct {
	client *redis.Client
	prefix string
}

// NewRedisOutbox creates a callback outbox backed by Redis.
// Records are JSON strings under callback:<batch id>; pending records are
// indexed in the callbacks:pending ZSET scored by next attempt (ms).
func NewRedisOutbox(client *redis.Client, prefix string) notify.Outbox {
	return &redisOutbox{client: client, prefix: prefix}
}

func (o *redisOutbox) recordKey(batchID string) string { return o.prefix + ":callback:" + batchID }
func (o *redisOutbox) pendingKey() string              { return o.prefix + ":callbacks:pending" }

func (o *redisOutbox) Put(ctx context.Context, rec *notify.Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode callback record: %w", err)
	}

	key := o.recordKey(rec.BatchID)
	stored := false

	err = o.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil || n > 0 {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if rec.Status == notify.RecordPending {
				pipe.ZAdd(ctx, o.pendingKey(), redis.Z{Score: float64(rec.NextAttemptAt.UnixMilli()), Member: rec.BatchID})
			}
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("put callback record", err)
	}
	return stored, nil
}

func (o *redisOutbox) Get(ctx context.Context, batchID string) (*notify.Record, error) {
	data, err := o.client.Get(ctx, o.recordKey(batchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notify.ErrRecordNotFound
	}
	if err != nil {
		return nil, unavailable("get callback record", err)
	}

	var rec notify.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode callback record: %w", err)
	}
	return &rec, nil
}

func (o *redisOutbox) Save(ctx context.Context, rec *notify.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode callback record: %w", err)
	}

	_, err = o.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, o.recordKey(rec.BatchID), data, 0)
		if rec.Status == notify.RecordPending {
			pipe.ZAdd(ctx, o.pendingKey(), redis.Z{Score: float64(rec.NextAttemptAt.UnixMilli()), Member: rec.BatchID})
		} else {
			pipe.ZRem(ctx, o.pendingKey(), rec.BatchID)
		}
		return nil
	})
	if err != nil {
		return unavailable("save callback record", err)
	}
	return nil
}

func (o *redisOutbox) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := o.client.ZRangeByScore(ctx, o.pendingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable("query due callbacks", err)
	}
	return ids, nil
}
