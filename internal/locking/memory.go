package locking

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLocker is a process-local Locker for tests and single-process runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[ResourceKey]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[ResourceKey]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, key ResourceKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key ResourceKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; !ok {
		return fmt.Errorf("lock %s is not held", key)
	}
	delete(l.held, key)
	return nil
}
