// Package alarm plays the alarm sound when a reminder fires.
package alarm

import (
	"sync"
	"time"

	"tasknest/backend"
	"tasknest/internal/utils"
)

// DefaultSound is played when no custom alarm sound is selected.
const DefaultSound = "/usr/share/sounds/freedesktop/stereo/complete.oga"

// Playback bounds.
const (
	MinDuration     = 5 * time.Second
	MaxDuration     = 10 * time.Second
	DefaultDuration = 5 * time.Second
)

// ClampDuration keeps d within the playback bounds. Zero selects the default.
func ClampDuration(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultDuration
	case d < MinDuration:
		return MinDuration
	case d > MaxDuration:
		return MaxDuration
	}
	return d
}

// Player starts playback of a sound locator.
type Player interface {
	Play(locator string) (Playback, error)
}

// Playback is a running sound.
type Playback interface {
	Stop() error
}

// ShouldPlay resolves the per-task override against the global flag.
func ShouldPlay(override backend.AlarmOverride, remindersEnabled bool) bool {
	switch override.Normalize() {
	case backend.AlarmOn:
		return true
	case backend.AlarmOff:
		return false
	default:
		return remindersEnabled
	}
}

// Trigger is a fired reminder as seen by the dispatcher.
type Trigger struct {
	TaskID   string
	Override backend.AlarmOverride
}

// Dispatcher plays bounded alarm sounds.
type Dispatcher struct {
	player       Player
	duration     time.Duration
	defaultSound string
	afterFunc    func(d time.Duration, f func()) *time.Timer

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDuration sets the playback bound. It is clamped to 5-10 seconds.
func WithDuration(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.duration = ClampDuration(d)
	}
}

// WithDefaultSound overrides the platform default sound.
func WithDefaultSound(locator string) Option {
	return func(disp *Dispatcher) {
		if locator != "" {
			disp.defaultSound = locator
		}
	}
}

// NewDispatcher creates a dispatcher playing through player.
func NewDispatcher(player Player, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		player:       player,
		duration:     DefaultDuration,
		defaultSound: DefaultSound,
		afterFunc:    time.AfterFunc,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Duration returns the playback bound.
func (d *Dispatcher) Duration() time.Duration {
	return d.duration
}

// Dispatch handles one fired reminder and reports whether a sound started.
// Playback failures are logged only.
func (d *Dispatcher) Dispatch(t Trigger, prefs backend.Preferences) bool {
	if !ShouldPlay(t.Override, prefs.RemindersEnabled) {
		utils.Debugf("alarm: sound suppressed for task %s", t.TaskID)
		return false
	}

	locator := prefs.AlarmSound.URI
	if locator == "" {
		locator = d.defaultSound
	}
	if err := d.play(locator); err != nil {
		utils.Warnf("alarm: playback of %s failed: %v", locator, err)
		return false
	}
	return true
}

// TestSound plays the selected custom sound through the same bounded
// routine.
func (d *Dispatcher) TestSound(sound backend.AlarmSound) error {
	if sound.IsZero() || sound.URI == "" {
		return utils.ErrNoCustomSound()
	}
	return d.play(sound.URI)
}

// play starts playback and schedules an unconditional stop at the bound.
func (d *Dispatcher) play(locator string) error {
	pb, err := d.player.Play(locator)
	if err != nil {
		return err
	}

	d.wg.Add(1)
	d.afterFunc(d.duration, func() {
		defer d.wg.Done()
		if err := pb.Stop(); err != nil {
			utils.Debugf("alarm: stopping playback: %v", err)
		}
	})
	return nil
}

// Wait blocks until every started playback has been stopped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
