// Package store persists tasks. Every implementation enforces the monotonic
// status lifecycle through domain.TaskStatus.CanTransition.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/paper-whisperer/internal/config"
	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
)

// UpdateFunc mutates a task in place. Returning an error aborts the update.
type UpdateFunc func(t *domain.Task) error

// Store is the task repository shared by the API and the pipeline.
type Store interface {
	Create(ctx context.Context, t *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Task, error)
	List(ctx context.Context) ([]*domain.Task, error)
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *observability.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(cfg.MaxTasks), nil
	case "sqlite":
		return NewSQLStore(ctx, SQLOptions{
			Driver:       DriverSQLite,
			DSN:          cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			JournalMode:  cfg.SQLite.JournalMode,
		}, logger)
	case "postgres":
		return NewSQLStore(ctx, SQLOptions{
			Driver:          DriverPostgres,
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, logger)
	case "redis":
		return NewRedisStore(ctx, RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		}, logger)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown store driver %q", cfg.Driver), nil)
	}
}

// prepareNew fills the fields every new task needs.
func prepareNew(t *domain.Task) error {
	if t == nil {
		return domain.ValidationError("task is required", nil)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TaskStatusPending
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return nil
}

// applyUpdate runs fn against t and rejects status regressions.
func applyUpdate(t *domain.Task, fn UpdateFunc) error {
	prev := t.Status
	if err := fn(t); err != nil {
		return err
	}
	if !prev.CanTransition(t.Status) {
		return domain.ConflictError(fmt.Sprintf("task %s cannot move from %s to %s", t.ID, prev, t.Status))
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func notFound(id string) error {
	return domain.NotFoundError(fmt.Sprintf("task %s not found", id))
}

func encodeTask(t *domain.Task) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return data, nil
}

func decodeTask(data []byte) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

// clone deep-copies a task so callers never share memory with the store.
func clone(t *domain.Task) *domain.Task {
	data, err := json.Marshal(t)
	if err != nil {
		cp := *t
		return &cp
	}
	var cp domain.Task
	if err := json.Unmarshal(data, &cp); err != nil {
		cp = *t
	}
	return &cp
}

// sortNewestFirst orders tasks by creation time, newest first.
func sortNewestFirst(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}
