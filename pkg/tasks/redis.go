package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "deep-research:task:"
	redisIndexKey  = "deep-research:tasks"
)

// RedisStore keeps each task as a JSON string under its own key. SET replaces
// the value atomically; a sorted set scored by creation time backs List.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects using a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func taskKey(id string) string {
	return redisKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	if !validID(rec.ID) {
		return fmt.Errorf("invalid task id %q", rec.ID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	// The key and its index entry are written in one MULTI/EXEC so List and
	// RecoverInterrupted always see a created task.
	var created *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, taskKey(rec.ID), data, 0)
		pipe.ZAddNX(ctx, redisIndexKey, redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
		return nil
	})
	if err != nil {
		// EXEC does not roll back, so undo a key whose index entry failed.
		if created != nil && created.Val() {
			_ = s.client.Del(context.Background(), taskKey(rec.ID)).Err()
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	if !created.Val() {
		return fmt.Errorf("%w: %s", ErrExists, rec.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	if !validID(id) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get task: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode task: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if !validID(rec.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	ok, err := s.client.SetXX(ctx, taskKey(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	records := make([]Record, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			slog.Warn("Skipping unreadable task", "task_id", ids[i], "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) RecoverInterrupted(ctx context.Context, reason string) (int, error) {
	records, err := s.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range records {
		if !interrupted(rec.Status) {
			continue
		}
		if _, err := Advance(ctx, s, rec.ID, StatusFailed, func(r *Record) { r.Error = reason }); err != nil {
			return n, fmt.Errorf("failed to recover task %s: %w", rec.ID, err)
		}
		n++
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
