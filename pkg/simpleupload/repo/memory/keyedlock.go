package memory

import (
	"context"
	"sync"
)

// keyedLocks is a keyed mutex whose acquisition honours context cancellation.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	held chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

// acquire blocks until key is held or ctx is done.
func (s *keyedLocks) acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	lock, exists := s.locks[key]
	if !exists {
		lock = &keyedLock{held: make(chan struct{}, 1)}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	select {
	case lock.held <- struct{}{}:
	case <-ctx.Done():
		s.unref(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.held
			s.unref(key, lock)
		})
	}, nil
}

func (s *keyedLocks) unref(key string, lock *keyedLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, key)
	}
}
