// internal/workcopy/keyedlock.go
package workcopy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	custom_errors "repo-insights/internal/errors"
)

// keyedLock is a set of mutexes addressed by string key. Waiting honours both
// the caller's context and a per-call timeout.
type keyedLock struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newKeyedLock() *keyedLock {
	return &keyedLock{sems: make(map[string]*semaphore.Weighted)}
}

func (l *keyedLock) get(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[key] = sem
	}
	return sem
}

// Lock blocks until key is free. It returns ErrLockTimeout when timeout elapses
// first and the context error when ctx ends first.
func (l *keyedLock) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	sem := l.get(key)
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, custom_errors.ErrLockTimeout
	}
	return func() { sem.Release(1) }, nil
}

// TryLock takes key only if it is free right now.
func (l *keyedLock) TryLock(key string) (func(), bool) {
	sem := l.get(key)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return func() { sem.Release(1) }, true
}
