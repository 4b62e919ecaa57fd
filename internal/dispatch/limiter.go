package dispatch

import (
	"context"
	"sync"
)

// ConnectorLimiter is the process-wide, per-connector-app semaphore of
// spec section 5 ("a per-connector global semaphore limits concurrent
// calls to any single app across all runs"). One Limiter is shared by
// every run's Dispatcher.
type ConnectorLimiter struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

// NewConnectorLimiter returns an empty limiter; semaphores are created
// lazily per app on first Acquire.
func NewConnectorLimiter() *ConnectorLimiter {
	return &ConnectorLimiter{sems: make(map[string]chan struct{})}
}

func (l *ConnectorLimiter) semaphore(app string, capacity int) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[app]
	if !ok || cap(sem) != capacity {
		sem = make(chan struct{}, capacity)
		l.sems[app] = sem
	}
	return sem
}

// Acquire blocks until a slot for app is free or ctx is done. capacity
// <= 0 is treated as unbounded (no limiting).
func (l *ConnectorLimiter) Acquire(ctx context.Context, app string, capacity int) error {
	if capacity <= 0 {
		return nil
	}
	sem := l.semaphore(app, capacity)
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot acquired for app. Must be called exactly once
// per successful Acquire with capacity > 0.
func (l *ConnectorLimiter) Release(app string, capacity int) {
	if capacity <= 0 {
		return
	}
	l.mu.Lock()
	sem, ok := l.sems[app]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-sem:
	default:
	}
}
