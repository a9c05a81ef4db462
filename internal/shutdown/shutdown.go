// Package shutdown coordinates stopping the daemon: signal handling,
// cleanup registration and a bounded wait for cleanups to finish.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"tasknest/internal/utils"
)

// CleanupFunc performs cleanup on shutdown. Its context is cancelled when
// the shutdown deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager handles graceful shutdown coordination.
type Manager struct {
	mu         sync.Mutex
	cleanups   []cleanupEntry
	shutdown   bool
	shutdownCh chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once
	waitOnce   sync.Once
	waitErr    error
}

// NewManager creates a new shutdown manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RegisterCleanup registers a cleanup function to be called during shutdown.
// Cleanup functions are called in LIFO order (last registered, first called).
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Shutdown initiates a graceful shutdown. Only the first call has effect.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()

		m.cancel()
		close(m.shutdownCh)
	})
}

// HandleSignals calls Shutdown on SIGINT or SIGTERM. The returned function
// stops listening.
func (m *Manager) HandleSignals() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			utils.Infof("received %s, shutting down", sig)
			m.Shutdown()
		case <-done:
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}

// Done is closed once shutdown has been initiated.
func (m *Manager) Done() <-chan struct{} {
	return m.shutdownCh
}

// runCleanups executes all cleanup functions in LIFO order. A failing
// cleanup does not stop the remaining ones.
func (m *Manager) runCleanups(ctx context.Context) error {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i].fn(ctx); err != nil {
			utils.Warnf("cleanup %s failed: %v", cleanups[i].name, err)
			errs = append(errs, fmt.Errorf("%s: %w", cleanups[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// Wait runs the cleanups and waits for them to finish or for ctx to expire.
// Cleanups run once; later calls return the first result.
func (m *Manager) Wait(ctx context.Context) error {
	m.waitOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			done <- m.runCleanups(ctx)
		}()

		select {
		case err := <-done:
			m.waitErr = err
		case <-ctx.Done():
			m.waitErr = ctx.Err()
		}
	})
	return m.waitErr
}

// IsShutdown returns true if shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Context returns a context that is cancelled when shutdown is initiated.
func (m *Manager) Context() context.Context {
	return m.ctx
}
