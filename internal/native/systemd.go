// Package native arms reminders as systemd user timers. A timer survives
// the process that armed it and fires by running "tasknest fire" with the
// reminder payload.
package native

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"tasknest/internal/notification"
	"tasknest/internal/reminder"
)

// UnitPrefix prefixes every transient unit armed by tasknest.
const UnitPrefix = "tasknest-reminder-"

// calendarLayout is the systemd calendar timestamp format.
const calendarLayout = "2006-01-02 15:04:05"

// Systemd is a reminder.NativeScheduler on systemd user timers.
type Systemd struct {
	executor   notification.CommandExecutor
	exe        string
	configPath string
}

var _ reminder.NativeScheduler = (*Systemd)(nil)

// Option configures Systemd.
type Option func(*Systemd)

// WithExecutor sets the command executor.
func WithExecutor(e notification.CommandExecutor) Option {
	return func(s *Systemd) {
		s.executor = e
	}
}

// WithConfigPath makes fired reminders load the given config file.
func WithConfigPath(path string) Option {
	return func(s *Systemd) {
		s.configPath = path
	}
}

// New creates a scheduler whose timers run exe.
func New(exe string, opts ...Option) *Systemd {
	s := &Systemd{exe: exe}
	for _, opt := range opts {
		opt(s)
	}
	if s.executor == nil {
		s.executor = notification.NewCommandExecutor()
	}
	return s
}

// UnitName returns the transient unit name for a reminder identifier.
func UnitName(id int) string {
	return UnitPrefix + strconv.Itoa(id)
}

// CancelAll stops every tasknest reminder timer.
func (s *Systemd) CancelAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.executor.Execute("systemctl", "--user", "stop", UnitPrefix+"*.timer")
}

// Schedule arms a timer that wakes the system and fires with one second
// accuracy.
func (s *Systemd) Schedule(ctx context.Context, e reminder.Entry) error {
	return s.run(ctx, e, true)
}

// ScheduleBasic arms a timer with default timer properties.
func (s *Systemd) ScheduleBasic(ctx context.Context, e reminder.Entry) error {
	return s.run(ctx, e, false)
}

func (s *Systemd) run(ctx context.Context, e reminder.Entry, rich bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args, err := s.Args(e, rich)
	if err != nil {
		return err
	}
	if err := s.executor.Execute("systemd-run", args...); err != nil {
		return fmt.Errorf("systemd-run %s: %w", UnitName(e.ID), err)
	}
	return nil
}

// Args returns the systemd-run arguments for an entry.
func (s *Systemd) Args(e reminder.Entry, rich bool) ([]string, error) {
	if s.exe == "" {
		return nil, errors.New("executable path is not set")
	}
	payload, err := EncodePayload(e.Payload)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--user",
		"--unit=" + UnitName(e.ID),
		"--on-calendar=" + e.At.UTC().Format(calendarLayout) + " UTC",
	}
	if rich {
		args = append(args,
			"--timer-property=AccuracySec=1s",
			"--timer-property=WakeSystem=true",
		)
	}
	args = append(args, "--collect", "--", s.exe)
	if s.configPath != "" {
		args = append(args, "--config", s.configPath)
	}
	args = append(args, "fire", "--payload", payload)
	return args, nil
}

// EncodePayload serializes a payload for a command line argument.
func EncodePayload(p reminder.Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodePayload reverses EncodePayload.
func DecodePayload(s string) (reminder.Payload, error) {
	var p reminder.Payload
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("failed to decode payload: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode payload: %w", err)
	}
	p.Alarm = p.Alarm.Normalize()
	return p, nil
}
