// Package lifecycle coordinates startup, background work, readiness, and
// shutdown for the service's subsystems.
package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Check reports whether a dependency is usable. A nil error means healthy.
type Check func(ctx context.Context) error

// Coordinator manages startup and shutdown hooks, background loops,
// and readiness checks.
type Coordinator struct {
	ctx        context.Context
	cancel     context.CancelFunc
	startupWg  sync.WaitGroup
	shutdownWg sync.WaitGroup
	started    chan struct{}
	startOnce  sync.Once

	mu     sync.RWMutex
	ready  bool
	checks map[string]Check
}

// New creates a Coordinator with a cancellable context.
func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan struct{}),
		checks:  make(map[string]Check),
	}
}

// Context returns the coordinator's context, cancelled on shutdown.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// OnStartup registers a function to run concurrently during startup.
func (c *Coordinator) OnStartup(fn func()) {
	c.startupWg.Go(fn)
}

// OnShutdown registers a function to run concurrently during shutdown.
// Shutdown hooks should block on <-c.Context().Done() before executing cleanup.
func (c *Coordinator) OnShutdown(fn func()) {
	c.shutdownWg.Go(fn)
}

// Go runs fn in the background once startup has completed. fn must return
// when ctx is cancelled; Shutdown waits for it.
func (c *Coordinator) Go(fn func(ctx context.Context)) {
	c.shutdownWg.Go(func() {
		select {
		case <-c.started:
		case <-c.ctx.Done():
			return
		}
		fn(c.ctx)
	})
}

// AddCheck registers a named readiness check.
func (c *Coordinator) AddCheck(name string, fn Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Ready returns true after all startup hooks have completed.
func (c *Coordinator) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs every registered readiness check and returns the failures by name.
// An empty map means every dependency is healthy.
func (c *Coordinator) Check(ctx context.Context) map[string]error {
	c.mu.RLock()
	names := slices.Sorted(maps.Keys(c.checks))
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	failures := make(map[string]error)
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

// WaitForStartup blocks until all startup hooks have completed, sets the ready
// flag, and releases background loops registered with Go.
func (c *Coordinator) WaitForStartup() {
	c.startupWg.Wait()

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	c.startOnce.Do(func() { close(c.started) })
}

// Shutdown cancels the context and waits for shutdown hooks and background
// loops to complete within the given timeout.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
