// Package reminder computes and arms time-based reminders for tasks.
package reminder

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
	"unicode"

	"tasknest/backend"
	"tasknest/internal/utils"
)

// DefaultChannel is the notification channel used when no custom alarm
// sound (and so no per-selection channel) is selected.
const DefaultChannel = "reminders"

// maxIDDigits keeps numeric identifiers within int32 range.
const maxIDDigits = 9

// Payload is carried through the delivery backend and handed back when the
// reminder fires.
type Payload struct {
	TaskID  string                `json:"task_id"`
	Alarm   backend.AlarmOverride `json:"alarm"`
	Title   string                `json:"title"`
	Body    string                `json:"body"`
	Sound   string                `json:"sound,omitempty"`
	Channel string                `json:"channel"`
}

// Entry is one armed reminder.
type Entry struct {
	ID      int       `json:"id"`
	TaskID  string    `json:"task_id"`
	At      time.Time `json:"at"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Sound   string    `json:"sound,omitempty"`
	Channel string    `json:"channel"`
	Payload Payload   `json:"payload"`
}

// Eligible reports whether a task should be armed at all, before its
// target time is considered. Force-Off always wins; Force-On arms even
// when reminders are globally disabled.
func Eligible(t backend.Task, remindersEnabled bool) bool {
	if t.Done || t.Time == "" || t.IsNote() {
		return false
	}
	switch t.Alarm.Normalize() {
	case backend.AlarmOff:
		return false
	case backend.AlarmOn:
		return true
	default:
		return remindersEnabled
	}
}

// Target combines today's date (in now's location) with the task's time of
// day. ok is false when the time is unparsable or not strictly after now.
func Target(clock string, now time.Time) (at time.Time, ok bool) {
	h, m, err := utils.ParseClock(clock)
	if err != nil {
		return time.Time{}, false
	}
	y, mo, d := now.Date()
	at = time.Date(y, mo, d, h, m, 0, 0, now.Location())
	if !at.After(now) {
		return time.Time{}, false
	}
	return at, true
}

// NumericID derives the backend identifier from the digits of the task ID,
// so re-arming the same task reuses the same identifier. Task IDs without
// usable digits get a random identifier.
func NumericID(taskID string) int {
	var digits strings.Builder
	for _, r := range taskID {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if len(s) > maxIDDigits {
		s = s[len(s)-maxIDDigits:]
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 1 + rand.IntN(1<<31-2)
}

// Body formats the notification text.
func Body(t backend.Task) string {
	if t.Description != "" {
		return fmt.Sprintf("%s - %s", t.Description, t.Time)
	}
	return "Time: " + t.Time
}

// DueToday reports whether a task's date is today in now's location.
// Undated tasks recur daily and are always due.
func DueToday(t backend.Task, now time.Time) bool {
	return t.Date == "" || t.Date == utils.Today(now)
}

// Plan returns the entries the tasks should have armed at now. Only tasks
// dated today or undated are armed; later dates wait for the rollover
// rebuild of their day.
func Plan(tasks []backend.Task, prefs backend.Preferences, now time.Time) []Entry {
	channel := DefaultChannel
	if prefs.AlarmSound.ChannelID != "" {
		channel = prefs.AlarmSound.ChannelID
	}

	var entries []Entry
	for _, t := range tasks {
		if !Eligible(t, prefs.RemindersEnabled) || !DueToday(t, now) {
			continue
		}
		at, ok := Target(t.Time, now)
		if !ok {
			continue
		}

		e := Entry{
			ID:      NumericID(t.ID),
			TaskID:  t.ID,
			At:      at,
			Title:   "Reminder: " + t.Title,
			Body:    Body(t),
			Sound:   prefs.AlarmSound.URI,
			Channel: channel,
		}
		e.Payload = Payload{
			TaskID:  t.ID,
			Alarm:   t.Alarm.Normalize(),
			Title:   e.Title,
			Body:    e.Body,
			Sound:   e.Sound,
			Channel: e.Channel,
		}
		entries = append(entries, e)
	}
	return entries
}
