package memory

import (
	"context"
	"sync"

	portlocker "github.com/alanyang/dispatch-mesh/internal/port/locker"
)

var _ portlocker.AdvisoryLocker = (*Locker)(nil)

// Locker is the single-process AdvisoryLocker: one mutex per key.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]chan struct{})}
}

func (l *Locker) WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	sem := l.semaphore(key)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()
	return fn(ctx)
}

func (l *Locker) semaphore(key int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[key] = sem
	}
	return sem
}
