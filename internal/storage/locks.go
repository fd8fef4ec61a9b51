package storage

import (
	"context"
	"sync"
)

// localLocks emulates pg_try_advisory_lock for single-process backends.
type localLocks struct {
	mu   sync.Mutex
	held map[int64]bool
}

func (l *localLocks) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[int64]bool)
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}
