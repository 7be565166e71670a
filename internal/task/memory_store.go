package task

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process local Store guarded by a RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return ErrAlreadyExists
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// Finish implements Store.
func (s *MemoryStore) Finish(_ context.Context, t *Task) error {
	if err := validateFinish(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status.Terminal() {
		return ErrAlreadyFinished
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []*Task
	for id, t := range s.tasks {
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			evicted = append(evicted, t)
			delete(s.tasks, id)
		}
	}
	return evicted, nil
}

// Len returns the number of tracked tasks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
