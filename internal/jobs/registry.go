package jobs

import (
	"context"
	"log/slog"
	"sync"
)

// Registry runs detached background tasks and holds a reference to each one
// until it completes, so accepted jobs are not lost to an early shutdown and
// in-flight work can be drained gracefully.
type Registry struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	active map[uint64]string
	seq    uint64
	logger *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[uint64]string),
		logger: slog.Default(),
	}
}

// Go runs fn on its own goroutine, tracked under name until it returns.
// Panics are recovered and logged; one misbehaving job must not take the
// server down.
func (r *Registry) Go(name string, fn func()) {
	r.mu.Lock()
	r.seq++
	handle := r.seq
	r.active[handle] = name
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panicked", "task", name, "panic", rec)
			}
			r.mu.Lock()
			delete(r.active, handle)
			r.mu.Unlock()
			r.wg.Done()
		}()
		fn()
	}()
}

// Active returns the number of tasks currently running.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Wait blocks until all tracked tasks finish or ctx expires, returning
// ctx.Err() in the latter case.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
