// Package registry holds process-scratch progress records keyed by project id.
// Records are never authoritative; persisted project status is.
package registry

import (
	"context"
	"sync"
)

// Store is a keyed record store. Update applies fn atomically with respect to
// other Update calls on the same key; returning an error from fn aborts the
// write and is passed through.
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Put(ctx context.Context, key string, v T) error
	Update(ctx context.Context, key string, fn func(cur T, exists bool) (T, error)) (T, error)
	Delete(ctx context.Context, key string) error
}

// Memory 进程内实现
type Memory[T any] struct {
	sync.RWMutex
	m map[string]T
}

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{m: make(map[string]T)}
}

func (s *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	s.RLock()
	defer s.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *Memory[T]) Put(_ context.Context, key string, v T) error {
	s.Lock()
	defer s.Unlock()
	s.m[key] = v
	return nil
}

func (s *Memory[T]) Update(_ context.Context, key string, fn func(cur T, exists bool) (T, error)) (T, error) {
	s.Lock()
	defer s.Unlock()
	cur, ok := s.m[key]
	next, err := fn(cur, ok)
	if err != nil {
		return cur, err
	}
	s.m[key] = next
	return next, nil
}

func (s *Memory[T]) Delete(_ context.Context, key string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.m, key)
	return nil
}
