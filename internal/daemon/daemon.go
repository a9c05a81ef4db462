// Package daemon hosts the reminder core for the long-running run command:
// it wires the sync engine to the scheduler, delivers fired reminders,
// re-arms on day rollover and serves the status API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"tasknest/backend"
	"tasknest/internal/alarm"
	"tasknest/internal/capability"
	"tasknest/internal/history"
	"tasknest/internal/notification"
	"tasknest/internal/reminder"
	"tasknest/internal/shutdown"
	"tasknest/internal/status"
	"tasknest/internal/syncengine"
	"tasknest/internal/utils"
	"tasknest/internal/versioncheck"
	"tasknest/internal/watcher"
)

// ErrAlreadyRunning is returned when another daemon owns the PID file.
var ErrAlreadyRunning = errors.New("another tasknest daemon is already running")

// Config holds daemon configuration.
type Config struct {
	Account          backend.Account
	Version          string
	PIDPath          string        // empty skips the single-instance check
	StatusAddr       string        // empty disables the status server
	WatchPath        string        // store database; empty disables the watcher
	Debounce         time.Duration // watcher debounce
	RolloverSchedule string        // cron spec of the day-rollover rebuild
	UpdateSchedule   string        // cron spec of the minimum-version check
	ShutdownTimeout  time.Duration
	HistoryRetention int // days of delivery history kept; 0 keeps everything
}

// Refresher re-reads the store and re-delivers snapshots to subscribers.
type Refresher interface {
	Refresh()
}

// Deps are the components the daemon drives.
type Deps struct {
	Engine      *syncengine.Engine
	Refresher   Refresher
	Caps        capability.Capabilities
	Native      reminder.NativeScheduler
	Permissions capability.PermissionSystem // nil when absent
	Dispatcher  *alarm.Dispatcher
	Notifier    notification.NotificationManager
	Updates     *versioncheck.Checker // nil disables the check
	History     *history.Log          // nil records nothing
	Now         func() time.Time
}

// Daemon is the runtime host of the reminder core.
type Daemon struct {
	cfg       Config
	deps      Deps
	scheduler *reminder.Scheduler
	breaker   *CircuitBreaker
	rebuildCh chan struct{}
	startedAt time.Time

	rebuilds atomic.Int64
	fired    atomic.Int64
	addr     atomic.Value // string, the bound status address
}

// New creates a daemon. The delivery backend is selected here, once, from
// the probed capabilities.
func New(cfg Config, deps Deps) *Daemon {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.RolloverSchedule == "" {
		cfg.RolloverSchedule = "0 0 * * *"
	}
	if cfg.UpdateSchedule == "" {
		cfg.UpdateSchedule = "@every 6h"
	}

	d := &Daemon{
		cfg:       cfg,
		deps:      deps,
		breaker:   NewCircuitBreaker(DefaultCircuitBreakerThreshold, DefaultCircuitBreakerCooldown),
		rebuildCh: make(chan struct{}, 1),
	}
	b := reminder.SelectBackend(deps.Caps, deps.Native, d.onTrigger, reminder.WithTimerClock(deps.Now))
	d.scheduler = reminder.NewScheduler(b, reminder.WithNow(deps.Now))
	return d
}

// Scheduler returns the reminder scheduler.
func (d *Daemon) Scheduler() *reminder.Scheduler {
	return d.scheduler
}

// StatusAddr returns the address the status server is bound to, or "".
func (d *Daemon) StatusAddr() string {
	addr, _ := d.addr.Load().(string)
	return addr
}

// Rebuilds returns the number of completed rebuilds.
func (d *Daemon) Rebuilds() int64 {
	return d.rebuilds.Load()
}

// Fired returns the number of in-process timer expirations handled.
func (d *Daemon) Fired() int64 {
	return d.fired.Load()
}

// Handler returns the status API handler.
func (d *Daemon) Handler() http.Handler {
	return status.NewHandler(status.Deps{
		Engine:    d.deps.Engine,
		Schedule:  d.scheduler,
		Version:   d.cfg.Version,
		StartedAt: d.startedAt,
		Now:       d.deps.Now,
	})
}

// Run starts the daemon and blocks until ctx is cancelled, a termination
// signal arrives or the status server fails. Cleanups run before it
// returns.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.PIDPath != "" {
		if IsRunning(d.cfg.PIDPath) {
			return ErrAlreadyRunning
		}
		if err := writePID(d.cfg.PIDPath); err != nil {
			return err
		}
		defer func() { _ = os.Remove(d.cfg.PIDPath) }()
	}
	d.startedAt = d.deps.Now()

	mgr := shutdown.NewManager()
	stopSignals := mgr.HandleSignals()
	defer stopSignals()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-mgr.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	utils.Infof("daemon: starting (backend: %s, native: %v)", d.scheduler.BackendName(), d.deps.Caps.NativeScheduling)
	capability.Negotiate(ctx, d.deps.Permissions, capability.Required)

	mgr.RegisterCleanup("alarm", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			d.deps.Dispatcher.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	mgr.RegisterCleanup("scheduler", func(context.Context) error {
		d.scheduler.Stop()
		return nil
	})

	d.deps.Engine.OnChange(d.onChange)
	if d.cfg.Account.UID != "" {
		if err := d.deps.Engine.Attach(ctx, d.cfg.Account); err != nil {
			return d.finish(mgr, fmt.Errorf("failed to attach account: %w", err))
		}
	} else {
		utils.Infof("daemon: no account configured, running signed out")
	}
	mgr.RegisterCleanup("engine", func(context.Context) error {
		d.deps.Engine.Close()
		return nil
	})
	d.RequestRebuild()

	jobs := cron.New()
	if _, err := jobs.AddFunc(d.cfg.RolloverSchedule, d.rollover); err != nil {
		cancel()
		return d.finish(mgr, fmt.Errorf("invalid rollover schedule: %w", err))
	}
	if d.deps.Updates != nil {
		if _, err := jobs.AddFunc(d.cfg.UpdateSchedule, func() { d.CheckForUpdate(ctx) }); err != nil {
			cancel()
			return d.finish(mgr, fmt.Errorf("invalid update schedule: %w", err))
		}
	}
	jobs.Start()
	mgr.RegisterCleanup("cron", func(ctx context.Context) error {
		select {
		case <-jobs.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if d.cfg.WatchPath != "" && d.deps.Refresher != nil {
		w, err := watcher.New(&watcher.Config{
			DatabasePath:     d.cfg.WatchPath,
			DebounceDuration: d.cfg.Debounce,
			OnChange:         d.deps.Refresher.Refresh,
		})
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			utils.Warnf("daemon: file watcher disabled: %v", err)
		} else {
			mgr.RegisterCleanup("watcher", func(context.Context) error {
				w.Stop()
				return nil
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.rebuildLoop(gctx)
		return nil
	})
	if d.deps.Updates != nil {
		g.Go(func() error {
			d.CheckForUpdate(gctx)
			return nil
		})
	}
	if d.cfg.StatusAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.StatusAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return d.finish(mgr, fmt.Errorf("failed to start status server: %w", err))
		}
		d.addr.Store(ln.Addr().String())
		srv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
		utils.Infof("daemon: status API on http://%s", ln.Addr())
	}

	err := g.Wait()
	utils.Infof("daemon: shutting down")
	return d.finish(mgr, err)
}

// finish runs the registered cleanups within the shutdown timeout.
func (d *Daemon) finish(mgr *shutdown.Manager, runErr error) error {
	mgr.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, mgr.Wait(ctx))
}

// RequestRebuild schedules a rebuild. Requests made while one is pending
// are coalesced.
func (d *Daemon) RequestRebuild() {
	select {
	case d.rebuildCh <- struct{}{}:
	default:
	}
}

// onChange is the engine listener. Only scheduling inputs trigger a
// rebuild.
func (d *Daemon) onChange(c syncengine.Change) {
	utils.Debugf("daemon: state changed (%s)", c.What)
	if c.What&syncengine.ScheduleInputs != 0 {
		d.RequestRebuild()
	}
}

// rebuildLoop runs rebuilds one at a time from the latest snapshot.
func (d *Daemon) rebuildLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.rebuildCh:
			snap := d.deps.Engine.Snapshot()
			d.scheduler.Rebuild(ctx, reminder.Input{Tasks: snap.Tasks, Preferences: snap.Preferences})
			d.rebuilds.Add(1)
		}
	}
}

// rollover re-arms for the new day and prunes old delivery history.
func (d *Daemon) rollover() {
	d.RequestRebuild()
	if d.cfg.HistoryRetention <= 0 {
		return
	}
	if n, err := d.deps.History.Cleanup(d.cfg.HistoryRetention, d.deps.Now()); err != nil {
		utils.Warnf("daemon: history cleanup failed: %v", err)
	} else if n > 0 {
		utils.Debugf("daemon: pruned %d history entries", n)
	}
}

// onTrigger handles an in-process timer expiration.
func (d *Daemon) onTrigger(p reminder.Payload) {
	d.fired.Add(1)
	prefs := d.deps.Engine.Snapshot().Preferences
	now := d.deps.Now()
	sound, err := Deliver(d.deps.Notifier, d.deps.Dispatcher, p, prefs, now)
	Record(d.deps.History, p, history.SourceTimer, now, sound, err)
}

// CheckForUpdate compares the running version with the remote minimum and
// notifies when an update is required. Failures are logged only; after
// repeated failures checks are skipped for a cooldown.
func (d *Daemon) CheckForUpdate(ctx context.Context) {
	if d.deps.Updates == nil {
		return
	}
	if !d.breaker.Allow() {
		utils.Debugf("daemon: version check skipped (circuit %s)", d.breaker.State())
		return
	}

	info, err := d.deps.Updates.Fetch(ctx)
	if err != nil {
		d.breaker.RecordFailure()
		utils.Debugf("daemon: version check failed: %v", err)
		return
	}
	d.breaker.RecordSuccess()

	if err := d.deps.Updates.Evaluate(info); err != nil {
		utils.Warnf("%v", err)
		if d.deps.Notifier != nil {
			msg := info.UpdateMessage
			if msg == "" {
				msg = err.Error()
			}
			_ = d.deps.Notifier.Send(notification.UpdateRequired(msg, info.DownloadURL, d.deps.Now()))
		}
	}
}

// Deliver shows the notification of a fired reminder and hands it to the
// alarm dispatcher exactly once. It reports whether a sound started and
// the notification error, which never stops the alarm.
func Deliver(n notification.NotificationManager, disp *alarm.Dispatcher, p reminder.Payload, prefs backend.Preferences, at time.Time) (bool, error) {
	var notifyErr error
	if n != nil {
		if notifyErr = n.Send(notification.Reminder(p.Title, p.Body, p.TaskID, p.Channel, at)); notifyErr != nil {
			utils.Warnf("reminder notification for task %s failed: %v", p.TaskID, notifyErr)
		}
	}
	if disp == nil {
		return false, notifyErr
	}
	return disp.Dispatch(alarm.Trigger{TaskID: p.TaskID, Override: p.Alarm}, prefs), notifyErr
}

// Record adds a delivered reminder to the history log.
func Record(h *history.Log, p reminder.Payload, source string, at time.Time, sound bool, notifyErr error) {
	err := h.Record(history.Delivery{
		At:      at,
		TaskID:  p.TaskID,
		Title:   p.Title,
		Channel: p.Channel,
		Source:  source,
		Sound:   sound,
	}, notifyErr)
	if err != nil {
		utils.Warnf("failed to record delivery of task %s: %v", p.TaskID, err)
	}
}

func writePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// IsRunning checks whether the process recorded in the PID file is alive.
// A stale PID file is removed.
func IsRunning(pidPath string) bool {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(pidPath)
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 checks for existence.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		return false
	}
	return true
}

// GetPIDPath returns the default PID file path.
func GetPIDPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "tasknest", "daemon.pid")
	}
	return fmt.Sprintf("/tmp/tasknest-daemon-%d.pid", os.Getuid())
}
