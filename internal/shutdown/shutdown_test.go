package shutdown_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"tasknest/internal/shutdown"
)

func waitCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// TestShutdownRunsCleanups verifies every registered cleanup runs once.
func TestShutdownRunsCleanups(t *testing.T) {
	mgr := shutdown.NewManager()

	var timersStopped, cacheClosed atomic.Bool
	mgr.RegisterCleanup("cache", func(ctx context.Context) error {
		cacheClosed.Store(true)
		return nil
	})
	mgr.RegisterCleanup("scheduler", func(ctx context.Context) error {
		timersStopped.Store(true)
		return nil
	})

	mgr.Shutdown()
	if err := mgr.Wait(waitCtx(t, 2*time.Second)); err != nil {
		t.Fatalf("expected clean shutdown, got: %v", err)
	}

	if !timersStopped.Load() || !cacheClosed.Load() {
		t.Error("expected every cleanup to run")
	}
	if !mgr.IsShutdown() {
		t.Error("expected shutdown flag to be set")
	}
}

// TestShutdownWaitsForInFlightPlayback verifies a cleanup can wait for an
// alarm that is still playing.
func TestShutdownWaitsForInFlightPlayback(t *testing.T) {
	mgr := shutdown.NewManager()

	playing := make(chan struct{})
	stopped := make(chan struct{})
	mgr.RegisterCleanup("alarm", func(ctx context.Context) error {
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		close(playing)
		time.Sleep(50 * time.Millisecond)
		close(stopped)
	}()
	<-playing

	mgr.Shutdown()
	if err := mgr.Wait(waitCtx(t, 2*time.Second)); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	select {
	case <-stopped:
	default:
		t.Error("expected playback to stop before shutdown finished")
	}
}

func TestShutdownCancelsContext(t *testing.T) {
	mgr := shutdown.NewManager()
	select {
	case <-mgr.Context().Done():
		t.Fatal("context cancelled before shutdown")
	default:
	}

	mgr.Shutdown()

	select {
	case <-mgr.Context().Done():
	default:
		t.Error("expected context to be cancelled after shutdown")
	}
	select {
	case <-mgr.Done():
	default:
		t.Error("expected Done to be closed after shutdown")
	}
}

func TestShutdownCollectsCleanupErrors(t *testing.T) {
	mgr := shutdown.NewManager()

	var ran atomic.Int32
	mgr.RegisterCleanup("status-server", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("listener already closed")
	})
	mgr.RegisterCleanup("watcher", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	mgr.Shutdown()
	err := mgr.Wait(waitCtx(t, 2*time.Second))
	if err == nil || !strings.Contains(err.Error(), "status-server: listener already closed") {
		t.Errorf("expected the failing cleanup to be reported, got %v", err)
	}
	if ran.Load() != 2 {
		t.Errorf("expected both cleanups to run, got %d", ran.Load())
	}
}

func TestShutdownTimeout(t *testing.T) {
	mgr := shutdown.NewManager()
	mgr.RegisterCleanup("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	mgr.Shutdown()
	if err := mgr.Wait(waitCtx(t, 100*time.Millisecond)); err == nil {
		t.Error("expected timeout error")
	}
}

// TestShutdownConcurrentSafety verifies concurrent Shutdown and Wait calls
// run cleanups exactly once.
func TestShutdownConcurrentSafety(t *testing.T) {
	mgr := shutdown.NewManager()

	var count atomic.Int32
	mgr.RegisterCleanup("test", func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Shutdown()
			_ = mgr.Wait(context.Background())
		}()
	}
	wg.Wait()

	if count.Load() != 1 {
		t.Errorf("expected cleanup to be called exactly once, got %d", count.Load())
	}
}

// TestShutdownOrder verifies cleanups run last registered first.
func TestShutdownOrder(t *testing.T) {
	mgr := shutdown.NewManager()

	var order []string
	var mu sync.Mutex
	for _, name := range []string{"store", "engine", "scheduler"} {
		mgr.RegisterCleanup(name, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	mgr.Shutdown()
	_ = mgr.Wait(waitCtx(t, 2*time.Second))

	expected := []string{"scheduler", "engine", "store"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d cleanups, got %d", len(expected), len(order))
	}
	for i, name := range expected {
		if order[i] != name {
			t.Errorf("expected cleanup %d to be %q, got %q", i, name, order[i])
		}
	}
}

func TestHandleSignals(t *testing.T) {
	mgr := shutdown.NewManager()
	stop := mgr.HandleSignals()
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to signal self: %v", err)
	}

	select {
	case <-mgr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("SIGTERM did not trigger shutdown")
	}
	stop()
}
