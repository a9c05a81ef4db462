package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tasknest/internal/capability"
	"tasknest/internal/utils"
)

// NativeScheduler is the OS-level scheduling capability. Entries armed
// through it survive process exit.
type NativeScheduler interface {
	CancelAll(ctx context.Context) error
	// Schedule arms an entry with every delivery option.
	Schedule(ctx context.Context, e Entry) error
	// ScheduleBasic arms an entry with the minimum parameter set.
	ScheduleBasic(ctx context.Context, e Entry) error
}

// NativeBackend delegates to a NativeScheduler.
type NativeBackend struct {
	native NativeScheduler
}

// NewNativeBackend wraps a native scheduler.
func NewNativeBackend(native NativeScheduler) *NativeBackend {
	return &NativeBackend{native: native}
}

// Name implements Backend.
func (b *NativeBackend) Name() string { return "native" }

// CancelAll implements Backend.
func (b *NativeBackend) CancelAll(ctx context.Context) error {
	return b.native.CancelAll(ctx)
}

// Arm tries the full call first and the reduced call on failure.
func (b *NativeBackend) Arm(ctx context.Context, e Entry) error {
	err := b.native.Schedule(ctx, e)
	if err == nil {
		return nil
	}
	utils.Debugf("reminder: full schedule call failed for %d, retrying reduced: %v", e.ID, err)

	if basicErr := b.native.ScheduleBasic(ctx, e); basicErr != nil {
		return errors.Join(err, basicErr)
	}
	return nil
}

// TimerBackend arms entries as in-process timers. They are lost when the
// process exits.
type TimerBackend struct {
	onTrigger func(Payload)
	now       func() time.Time

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

// TimerOption configures a TimerBackend.
type TimerOption func(*TimerBackend)

// WithTimerClock sets the clock delays are measured against. It should
// match the scheduler clock that planned the entries.
func WithTimerClock(now func() time.Time) TimerOption {
	return func(b *TimerBackend) {
		if now != nil {
			b.now = now
		}
	}
}

// NewTimerBackend creates a timer backend calling onTrigger once per
// fired entry.
func NewTimerBackend(onTrigger func(Payload), opts ...TimerOption) *TimerBackend {
	b := &TimerBackend{
		onTrigger: onTrigger,
		now:       time.Now,
		timers:    make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements Backend.
func (b *TimerBackend) Name() string { return "timer" }

// CancelAll stops every pending timer.
func (b *TimerBackend) CancelAll(ctx context.Context) error {
	b.Stop()
	return nil
}

// Stop stops every pending timer.
func (b *TimerBackend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t := range b.timers {
		t.Stop()
	}
	clear(b.timers)
}

// Pending returns the number of timers that have not fired.
func (b *TimerBackend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

// Arm implements Backend.
func (b *TimerBackend) Arm(ctx context.Context, e Entry) error {
	delay := e.At.Sub(b.now())
	if delay <= 0 {
		return fmt.Errorf("reminder time %s already passed", e.At.Format(time.RFC3339))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		_, live := b.timers[t]
		delete(b.timers, t)
		b.mu.Unlock()
		if live && b.onTrigger != nil {
			b.onTrigger(e.Payload)
		}
	})
	b.timers[t] = struct{}{}
	return nil
}

// SelectBackend picks the delivery backend once at startup: the native
// capability when present, in-process timers otherwise.
func SelectBackend(caps capability.Capabilities, native NativeScheduler, onTrigger func(Payload), opts ...TimerOption) Backend {
	if caps.NativeScheduling && native != nil {
		return NewNativeBackend(native)
	}
	return NewTimerBackend(onTrigger, opts...)
}
