package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
)

const maxTxAttempts = 20

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	TTL       time.Duration // zero keeps tasks forever
}

// RedisStore keeps each task as a JSON value under prefix+id, plus a sorted
// set of ids scored by creation time for listing.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *observability.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *observability.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = observability.Nop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "pw:task:"
	}

	logger.Info().
		Str("addr", opts.Addr).
		Str("prefix", prefix).
		Msg("task store ready")

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
		logger: logger.WithComponent("store"),
	}, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) indexKey() string { return s.prefix + "_index" }

func (s *RedisStore) Create(ctx context.Context, t *domain.Task) error {
	if err := prepareNew(t); err != nil {
		return err
	}
	data, err := encodeTask(t)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(t.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	if !ok {
		return domain.ConflictError(fmt.Sprintf("task %s already exists", t.ID))
	}

	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(t.CreatedAt.UnixNano()),
		Member: t.ID,
	}).Err(); err != nil {
		return fmt.Errorf("redis index: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeTask(data)
}

// Update runs fn inside a WATCH transaction and retries when another writer
// touched the same key in between.
func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Task, error) {
	key := s.key(id)
	var updated *domain.Task

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(id)
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}

		t, err := decodeTask(data)
		if err != nil {
			return err
		}
		if err := applyUpdate(t, fn); err != nil {
			return err
		}
		encoded, err := encodeTask(t)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if s.ttl > 0 {
				pipe.Set(ctx, key, encoded, s.ttl)
			} else {
				pipe.Set(ctx, key, encoded, redis.KeepTTL)
			}
			return nil
		})
		if err == nil {
			updated = t
		}
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, domain.ConflictError(fmt.Sprintf("task %s is being updated concurrently", id))
}

func (s *RedisStore) List(ctx context.Context) ([]*domain.Task, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		t, err := decodeTask([]byte(raw))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			s.logger.Warn().Err(err).Int("count", len(expired)).Msg("failed to prune expired task ids")
		}
	}

	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
