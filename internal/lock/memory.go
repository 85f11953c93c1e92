package lock

import (
	"context"
	"sync"
)

// MemoryLocker is an in-process keyed mutex. It only serializes callers
// sharing the same MemoryLocker, so it fits single-instance deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker returns an empty keyed mutex.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

// Lock implements Locker.
func (m *MemoryLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	return acquireAll(ctx, keys, m.acquire)
}

func (m *MemoryLocker) acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, s)
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.drop(key, s)
		})
	}, nil
}

// drop forgets the slot once nobody holds or waits on it.
func (m *MemoryLocker) drop(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}
