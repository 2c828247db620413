package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/spherical/paper-whisperer/internal/domain"
)

// MemoryStore keeps tasks in a map. When maxTasks is reached the oldest
// finished task is evicted to make room.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]*domain.Task
	maxTasks int
}

// NewMemoryStore creates an in-process store. maxTasks <= 0 means unbounded.
func NewMemoryStore(maxTasks int) *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]*domain.Task),
		maxTasks: maxTasks,
	}
}

func (s *MemoryStore) Create(ctx context.Context, t *domain.Task) error {
	if err := prepareNew(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return domain.ConflictError(fmt.Sprintf("task %s already exists", t.ID))
	}
	if s.maxTasks > 0 && len(s.tasks) >= s.maxTasks && !s.evictOldestFinished() {
		return domain.ConflictError("task store is full")
	}
	s.tasks[t.ID] = clone(t)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(t), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[id]
	if !ok {
		return nil, notFound(id)
	}
	next := clone(cur)
	if err := applyUpdate(next, fn); err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return clone(next), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*domain.Task, error) {
	s.mu.RLock()
	out := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// evictOldestFinished must be called with the write lock held.
func (s *MemoryStore) evictOldestFinished() bool {
	var victim *domain.Task
	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			continue
		}
		if victim == nil || t.CreatedAt.Before(victim.CreatedAt) {
			victim = t
		}
	}
	if victim == nil {
		return false
	}
	delete(s.tasks, victim.ID)
	return true
}
