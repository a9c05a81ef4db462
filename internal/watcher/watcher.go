// Package watcher turns writes to the store database made by other
// processes (a one-shot CLI command, a fired reminder) into change
// notifications for the running daemon.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tasknest/internal/utils"
)

// DefaultDebounceDuration batches the bursts of writes a single SQLite
// commit produces (main file, WAL and shared-memory file).
const DefaultDebounceDuration = 250 * time.Millisecond

// Config holds file watcher configuration.
type Config struct {
	// DatabasePath is the store database. Its directory is watched and
	// only events on the database and its -wal/-shm companions count.
	DatabasePath     string
	DebounceDuration time.Duration
	OnChange         func()
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dbPath string, onChange func()) *Config {
	return &Config{
		DatabasePath:     dbPath,
		DebounceDuration: DefaultDebounceDuration,
		OnChange:         onChange,
	}
}

// Watcher monitors the store database and calls OnChange after writes.
type Watcher struct {
	cfg     *Config
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
	mu      sync.Mutex
}

// New creates a new Watcher instance.
func New(cfg *Config) (*Watcher, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = DefaultDebounceDuration
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins watching the database directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("watcher has been stopped and cannot be restarted")
	}
	w.mu.Unlock()

	dir := filepath.Dir(w.cfg.DatabasePath)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.eventLoop()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	close(w.stopCh)
	_ = w.fsw.Close()
	w.mu.Unlock()

	if started {
		<-w.doneCh
	}
}

// relevant reports whether an event touches the database files.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(w.cfg.DatabasePath)
	name := filepath.Base(event.Name)
	return name == base || strings.HasPrefix(name, base+"-")
}

// eventLoop debounces events and calls OnChange once per burst.
func (w *Watcher) eventLoop() {
	defer close(w.doneCh)

	var debounceTimer *time.Timer
	debounceCh := make(chan struct{}, 1)

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.cfg.DebounceDuration, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			utils.Debugf("watcher: %v", err)

		case <-debounceCh:
			if w.cfg.OnChange != nil {
				w.cfg.OnChange()
			}
		}
	}
}
