package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/hijab-blur/internal/retry"
)

const (
	redisKeyPrefix = "task:"
	// processingTTL bounds how long an unfinished task can linger after a crash.
	processingTTL = 24 * time.Hour
)

// RedisStore keeps tasks as JSON values. Terminal tasks expire after the retention
// window, so Sweep has nothing to do.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
	policy    retry.Policy
	logger    *zap.Logger
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, retention time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		retention: retention,
		policy:    retry.DefaultPolicy(),
		logger:    logger.Named("redis_task_store"),
	}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, t *Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var created bool
	err = retry.Do(ctx, s.policy, s.logger, "redis.task.create", t.ID, func() error {
		ok, err := s.client.SetNX(ctx, redisKey(t.ID), payload, processingTTL).Result()
		created = ok
		return err
	})
	if err != nil {
		return err
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Task, error) {
	var raw []byte
	err := retry.Do(ctx, s.policy, s.logger, "redis.task.get", id, func() error {
		value, err := s.client.Get(ctx, redisKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			raw = nil
			return nil
		}
		raw = value
		return err
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return decodeTask(raw)
}

// Finish implements Store. The read-check-write runs inside a WATCH transaction.
func (s *RedisStore) Finish(ctx context.Context, t *Task) error {
	if err := validateFinish(t); err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	key := redisKey(t.ID)

	var outcome error
	err = retry.Do(ctx, s.policy, s.logger, "redis.task.finish", t.ID, func() error {
		outcome = nil
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				outcome = ErrNotFound
				return nil
			}
			if err != nil {
				return err
			}
			current, err := decodeTask(raw)
			if err != nil {
				return err
			}
			if current.Status.Terminal() {
				outcome = ErrAlreadyFinished
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.retention)
				return nil
			})
			return err
		}, key)
	})
	if err != nil {
		return err
	}
	return outcome
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return retry.Do(ctx, s.policy, s.logger, "redis.task.delete", id, func() error {
		return s.client.Del(ctx, redisKey(id)).Err()
	})
}

// Sweep implements Store. Expiry is delegated to key TTLs.
func (s *RedisStore) Sweep(context.Context, time.Time) ([]*Task, error) {
	return nil, nil
}

func decodeTask(raw []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
