package reminder

import (
	"context"
	"slices"
	"sync"
	"time"

	"tasknest/backend"
	"tasknest/internal/utils"
)

// Backend delivers armed entries. Exactly one backend is active per
// process.
type Backend interface {
	Name() string
	CancelAll(ctx context.Context) error
	Arm(ctx context.Context, e Entry) error
}

// Input is the read-only state a rebuild is computed from.
type Input struct {
	Tasks       []backend.Task
	Preferences backend.Preferences
}

// Scheduler rebuilds the reminder schedule from scratch on every change.
type Scheduler struct {
	backend Backend
	now     func() time.Time

	mu    sync.Mutex // serializes rebuilds
	armed []Entry
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNow overrides the scheduler clock.
func WithNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler arming through b.
func NewScheduler(b Backend, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{backend: b, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BackendName returns the name of the active backend.
func (s *Scheduler) BackendName() string {
	return s.backend.Name()
}

// Rebuild cancels everything previously armed, then arms the entries
// planned from in. An entry that fails to arm is logged and dropped
// without aborting the rebuild. It returns the armed entries.
func (s *Scheduler) Rebuild(ctx context.Context, in Input) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	planned := Plan(in.Tasks, in.Preferences, s.now())

	if err := s.backend.CancelAll(ctx); err != nil {
		utils.Warnf("reminder: cancel-all on %s failed: %v", s.backend.Name(), err)
	}

	armed := make([]Entry, 0, len(planned))
	for _, e := range planned {
		if err := s.backend.Arm(ctx, e); err != nil {
			utils.Warnf("reminder: dropping reminder for task %s: %v", e.TaskID, err)
			continue
		}
		armed = append(armed, e)
	}
	s.armed = armed

	utils.Debugf("reminder: %d of %d reminders armed via %s", len(armed), len(planned), s.backend.Name())
	return slices.Clone(armed)
}

// Armed returns the entries armed by the last rebuild.
func (s *Scheduler) Armed() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.armed)
}

// Stop cancels in-process timers. Entries delegated to the native
// capability are left armed; the next rebuild's cancel-all clears them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.backend.(interface{ Stop() }); ok {
		st.Stop()
	}
	s.armed = nil
}
