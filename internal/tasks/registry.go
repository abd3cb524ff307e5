// Package tasks owns the process's background work so shutdown can cancel it and wait for it.
package tasks

import (
	"context"
	"errors"
	"sync"

	"devin-backend/internal/shared/telemetry"
)

var (
	ErrClosed     = errors.New("task registry is shut down")
	ErrTaskExists = errors.New("task already running")
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks named background goroutines.
type Registry struct {
	mu     sync.Mutex
	base   context.Context
	stop   context.CancelFunc
	tasks  map[string]*task
	wg     sync.WaitGroup
	closed bool
}

func NewRegistry() *Registry {
	base, stop := context.WithCancel(context.Background())
	return &Registry{
		base:  base,
		stop:  stop,
		tasks: make(map[string]*task),
	}
}

// Go runs fn in its own goroutine under name. The context passed to fn is cancelled by
// Cancel(name) or Shutdown. A panic in fn is logged and swallowed.
func (r *Registry) Go(name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.tasks[name]; ok {
		return ErrTaskExists
	}

	ctx, cancel := context.WithCancel(r.base)
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[name] = t
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer close(t.done)
		defer r.remove(name, t)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				telemetry.Error("tasks.panic", map[string]any{
					"task":  name,
					"panic": rec,
				})
			}
		}()
		fn(ctx)
	}()
	return nil
}

func (r *Registry) remove(name string, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[name]; ok && cur == t {
		delete(r.tasks, name)
	}
}

// Cancel signals the named task to stop. It reports whether the task was running.
func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// Wait blocks until the named task exits or ctx is done.
func (r *Registry) Wait(ctx context.Context, name string) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) Running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[name]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Drain waits for running tasks to return on their own without cancelling them.
// Callers must not start new tasks while draining.
func (r *Registry) Drain(ctx context.Context) error {
	waitDone := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new tasks, cancels running ones and waits for them to return.
// It gives up when ctx is done and returns ctx.Err().
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	pending := len(r.tasks)
	r.mu.Unlock()

	r.stop()
	telemetry.Info("tasks.shutdown", map[string]any{"pending": pending})

	waitDone := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		telemetry.Warn("tasks.shutdown_timeout", map[string]any{"remaining": r.Len()})
		return ctx.Err()
	}
}
