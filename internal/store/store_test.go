package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/paper-whisperer/internal/config"
	"github.com/spherical/paper-whisperer/internal/domain"
)

// runStoreSuite exercises the behaviour every Store must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create assigns defaults", func(t *testing.T) {
		s := newStore(t)
		task := &domain.Task{Filename: "paper.pdf", FileSize: 1024, NumPages: 3}
		require.NoError(t, s.Create(ctx, task))

		assert.NotEmpty(t, task.ID)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.False(t, task.CreatedAt.IsZero())

		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "paper.pdf", got.Filename)
		assert.Equal(t, 3, got.NumPages)
		assert.WithinDuration(t, task.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, &domain.Task{ID: "dup"}))
		err := s.Create(ctx, &domain.Task{ID: "dup"})
		assert.True(t, domain.IsType(err, domain.ErrorTypeConflict))
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := newStore(t).Get(ctx, "missing")
		assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
	})

	t.Run("update follows lifecycle", func(t *testing.T) {
		s := newStore(t)
		task := &domain.Task{}
		require.NoError(t, s.Create(ctx, task))

		updated, err := s.Update(ctx, task.ID, func(t *domain.Task) error {
			t.Status = domain.TaskStatusProcessing
			t.Progress = 10
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusProcessing, updated.Status)

		_, err = s.Update(ctx, task.ID, func(t *domain.Task) error {
			t.Status = domain.TaskStatusDone
			t.Progress = 100
			t.Result = &domain.TaskResult{
				Content:   &domain.GeneratedContent{Article: "# A"},
				Artifacts: map[domain.ArtifactKind]string{domain.ArtifactArticle: "outputs/x_article.md"},
			}
			return nil
		})
		require.NoError(t, err)

		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusDone, got.Status)
		assert.Equal(t, float64(100), got.Progress)
		require.NotNil(t, got.Result)
		assert.Equal(t, "# A", got.Result.Content.Article)
		assert.Equal(t, "outputs/x_article.md", got.Result.Artifacts[domain.ArtifactArticle])
	})

	t.Run("regression rejected and not persisted", func(t *testing.T) {
		s := newStore(t)
		task := &domain.Task{}
		require.NoError(t, s.Create(ctx, task))
		_, err := s.Update(ctx, task.ID, func(t *domain.Task) error {
			t.Status = domain.TaskStatusProcessing
			return nil
		})
		require.NoError(t, err)

		_, err = s.Update(ctx, task.ID, func(t *domain.Task) error {
			t.Status = domain.TaskStatusPending
			t.Message = "should not stick"
			return nil
		})
		assert.True(t, domain.IsType(err, domain.ErrorTypeConflict))

		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusProcessing, got.Status)
		assert.Empty(t, got.Message)
	})

	t.Run("update callback error aborts", func(t *testing.T) {
		s := newStore(t)
		task := &domain.Task{}
		require.NoError(t, s.Create(ctx, task))

		_, err := s.Update(ctx, task.ID, func(t *domain.Task) error {
			t.Message = "changed"
			return domain.ConflictError("not pending")
		})
		require.Error(t, err)

		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Message)
	})

	t.Run("update unknown", func(t *testing.T) {
		_, err := newStore(t).Update(ctx, "missing", func(*domain.Task) error { return nil })
		assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
	})

	t.Run("list newest first", func(t *testing.T) {
		s := newStore(t)
		base := time.Now().UTC().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Create(ctx, &domain.Task{
				ID:        fmt.Sprintf("task-%d", i),
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		tasks, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, "task-2", tasks[0].ID)
		assert.Equal(t, "task-0", tasks[2].ID)
	})

	t.Run("concurrent updates to distinct tasks", func(t *testing.T) {
		s := newStore(t)
		ids := make([]string, 8)
		for i := range ids {
			task := &domain.Task{}
			require.NoError(t, s.Create(ctx, task))
			ids[i] = task.ID
		}

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for p := 1; p <= 5; p++ {
					_, err := s.Update(ctx, id, func(t *domain.Task) error {
						t.Status = domain.TaskStatusProcessing
						t.Progress = float64(p * 10)
						return nil
					})
					assert.NoError(t, err)
				}
			}(id)
		}
		wg.Wait()

		for _, id := range ids {
			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, float64(50), got.Progress)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore(0)
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLStore(context.Background(), SQLOptions{
			Driver:       DriverSQLite,
			DSN:          ":memory:",
			MaxOpenConns: 1,
		}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore_FileDatabase(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/tasks.db"
	opts := SQLOptions{Driver: DriverSQLite, DSN: path, MaxOpenConns: 1, JournalMode: "WAL"}

	s, err := NewSQLStore(ctx, opts, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, &domain.Task{ID: "persisted", Filename: "a.pdf"}))
	require.NoError(t, s.Close())

	s, err = NewSQLStore(ctx, opts, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.Filename)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	task := &domain.Task{ID: "t"}
	require.NoError(t, s.Create(ctx, task))

	task.Filename = "mutated after create"
	got, err := s.Get(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, got.Filename)

	got.Filename = "mutated after get"
	again, err := s.Get(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, again.Filename)
}

func TestMemoryStore_EvictsOldestFinished(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.Create(ctx, &domain.Task{ID: "old", CreatedAt: base}))
	require.NoError(t, s.Create(ctx, &domain.Task{ID: "newer", CreatedAt: base.Add(time.Minute)}))

	err := s.Create(ctx, &domain.Task{ID: "blocked"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConflict), "no finished task to evict")

	for _, next := range []domain.TaskStatus{domain.TaskStatusProcessing, domain.TaskStatusFailed} {
		_, err = s.Update(ctx, "old", func(t *domain.Task) error {
			t.Status = next
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Create(ctx, &domain.Task{ID: "fresh"}))
	_, err = s.Get(ctx, "old")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
	_, err = s.Get(ctx, "newer")
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "memory", MaxTasks: 10}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:", MaxOpenConns: 1}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	s.Close()

	_, err = Open(ctx, config.StoreConfig{Driver: "cassandra"}, nil)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))

	_, err = Open(ctx, config.StoreConfig{Driver: "postgres"}, nil)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}
