package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tasknest/backend/sqlite"
	"tasknest/internal/cache"
	"tasknest/internal/config"
	"tasknest/internal/syncengine"
	"tasknest/internal/utils"
)

// syncTimeout bounds the wait for the first snapshots of a one-shot command.
const syncTimeout = 5 * time.Second

// session is the store, cache and engine of one command invocation.
type session struct {
	cfg    *config.Config
	store  *sqlite.Backend
	cache  *cache.SQLite
	engine *syncengine.Engine
	cancel context.CancelFunc
}

// loadConfig reads the config file and applies the CLI flags on top.
func loadConfig(opts *Config) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyFlags(opts.NoPrompt, opts.Verbose, opts.OutputFormat)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts.NoPrompt = cfg.NoPrompt
	opts.OutputFormat = cfg.OutputFormat
	utils.SetVerboseMode(cfg.Logging.Verbose)
	return cfg, nil
}

// openSession opens the store and the cache. With attach set it also
// attaches the configured account and waits until every collection has
// been delivered, so reads and the preferences write-back see remote
// state.
func openSession(ctx context.Context, opts *Config, attach bool) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}
	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return nil, utils.ErrStoreOffline(err.Error())
	}
	c, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	s := &session{
		cfg:    cfg,
		store:  store,
		cache:  c,
		engine: syncengine.New(store, c, syncengine.WithClock(opts.now)),
	}
	if !attach {
		return s, nil
	}

	account := cfg.GetAccount()
	if account.UID == "" {
		s.Close()
		return nil, utils.ErrAccountNotAttached()
	}

	actx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err := s.engine.Attach(actx, account); err != nil {
		s.Close()
		return nil, err
	}
	if err := waitSynced(ctx, s.engine, syncTimeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close unsubscribes the engine and closes the databases.
func (s *session) Close() {
	s.engine.Close()
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.store.Close()
	_ = s.cache.Close()
}

func waitSynced(ctx context.Context, e *syncengine.Engine, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !e.Synced() {
		select {
		case <-ctx.Done():
			return utils.ErrStoreOffline("timed out waiting for the initial snapshots")
		case <-ticker.C:
		}
	}
	return nil
}
