// Package backend defines the task/goal/preferences data model and the
// remote document store interface the sync engine consumes.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskType discriminates schedulable tasks from free-form notes.
type TaskType string

const (
	TypeTask TaskType = "task"
	TypeNote TaskType = "note"
)

// AlarmOverride is a per-task setting that takes precedence over the
// global reminders-enabled flag.
type AlarmOverride string

const (
	AlarmDefault AlarmOverride = "default" // follow the global setting
	AlarmOn      AlarmOverride = "on"
	AlarmOff     AlarmOverride = "off"
)

// Normalize maps unknown or empty values to AlarmDefault.
func (a AlarmOverride) Normalize() AlarmOverride {
	switch a {
	case AlarmOn, AlarmOff:
		return a
	default:
		return AlarmDefault
	}
}

// ParseAlarmOverride parses a user supplied override value.
func ParseAlarmOverride(s string) (AlarmOverride, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default", "global", "follow":
		return AlarmDefault, nil
	case "on", "yes", "force-on":
		return AlarmOn, nil
	case "off", "no", "force-off":
		return AlarmOff, nil
	}
	return "", fmt.Errorf("invalid alarm override: %q", s)
}

// Task represents a task or a note
type Task struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"desc,omitempty"`
	Date        string        `json:"date,omitempty"` // YYYY-MM-DD, empty = undated
	Time        string        `json:"time,omitempty"` // HH:MM
	Category    string        `json:"cat,omitempty"`
	Done        bool          `json:"done"`
	Type        TaskType      `json:"type"`
	Alarm       AlarmOverride `json:"alarm,omitempty"`
	GoalID      string        `json:"goalId,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// IsNote reports whether the task is a free-form note.
func (t *Task) IsNote() bool {
	return t.Type == TypeNote
}

// TaskPatch is a merge update for a task. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Date        *string
	Time        *string
	Category    *string
	Done        *bool
	Type        *TaskType
	Alarm       *AlarmOverride
}

// Apply merges the patch into t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Time != nil {
		t.Time = *p.Time
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Done != nil {
		t.Done = *p.Done
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Alarm != nil {
		t.Alarm = *p.Alarm
	}
}

// Goal is a recurring objective that materializes linked tasks.
type Goal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Progress  int       `json:"progress"`
	Days      []int     `json:"days"`  // weekday indices, 0 = Sunday
	Hours     []string  `json:"hours"` // HH:MM
	Frequency int       `json:"frequency"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the display identity of an account.
type Profile struct {
	Name  string `json:"name"`
	Photo string `json:"photo"`
}

// AlarmSound is the selected alarm sound. The zero value means no sound
// has been selected.
type AlarmSound struct {
	URI       string `json:"uri"`
	Name      string `json:"name"`
	ChannelID string `json:"channelId"`
}

// IsZero reports whether no sound is selected.
func (a AlarmSound) IsZero() bool {
	return a == AlarmSound{}
}

// NewAlarmSound builds a sound selection with a channel identifier unique
// to this selection.
func NewAlarmSound(uri, name string, now time.Time) AlarmSound {
	return AlarmSound{
		URI:       uri,
		Name:      name,
		ChannelID: fmt.Sprintf("alarm_channel_%d", now.UnixMilli()),
	}
}

// Preferences is the per-account settings singleton.
type Preferences struct {
	Profile          Profile    `json:"profile"`
	DarkMode         bool       `json:"darkMode"`
	AccentColor      string     `json:"themeColor"`
	RemindersEnabled bool       `json:"remindersEnabled"`
	AlarmSound       AlarmSound `json:"alarmSound"`
	Premium          bool       `json:"isPremium"`
}

// Default preference values.
const (
	DefaultProfileName = "Creative Mind"
	DefaultPhoto       = "https://picsum.photos/seed/artist/200"
	DefaultAccentColor = "#ee9d2b"
)

// DefaultPreferences returns the preferences of a fresh account.
func DefaultPreferences() Preferences {
	return Preferences{
		Profile:          Profile{Name: DefaultProfileName, Photo: DefaultPhoto},
		AccentColor:      DefaultAccentColor,
		RemindersEnabled: true,
	}
}

// PreferencesDoc is the remote representation of Preferences and doubles
// as a merge patch: nil fields are absent. A non-nil pointer to a zero
// AlarmSound clears the selected sound.
type PreferencesDoc struct {
	Profile          *Profile    `json:"profile,omitempty"`
	DarkMode         *bool       `json:"darkMode,omitempty"`
	AccentColor      *string     `json:"themeColor,omitempty"`
	RemindersEnabled *bool       `json:"remindersEnabled,omitempty"`
	AlarmSound       *AlarmSound `json:"alarmSound,omitempty"`
	Premium          *bool       `json:"isPremium,omitempty"`
}

// Doc returns a document carrying every field of p.
func (p Preferences) Doc() PreferencesDoc {
	profile := p.Profile
	sound := p.AlarmSound
	return PreferencesDoc{
		Profile:          &profile,
		DarkMode:         &p.DarkMode,
		AccentColor:      &p.AccentColor,
		RemindersEnabled: &p.RemindersEnabled,
		AlarmSound:       &sound,
		Premium:          &p.Premium,
	}
}

// Account identifies the attached user as reported by the authentication
// collaborator.
type Account struct {
	UID         string
	DisplayName string
	PhotoURL    string
}

// TaskQuery filters a server-side task query. Empty fields are ignored.
type TaskQuery struct {
	GoalID    string
	DateAfter string // YYYY-MM-DD, exclusive
}

// Batch groups writes committed atomically.
type Batch struct {
	PutTasks    []Task
	DeleteTasks []string
	DeleteGoals []string
}

// IsEmpty reports whether the batch has no operations.
func (b *Batch) IsEmpty() bool {
	return len(b.PutTasks) == 0 && len(b.DeleteTasks) == 0 && len(b.DeleteGoals) == 0
}

// Subscription is a live change-notification stream.
type Subscription interface {
	Unsubscribe()
}

// RemoteStore is the per-account, per-collection document store with
// real-time change notifications.
type RemoteStore interface {
	// Tasks
	CreateTask(ctx context.Context, uid string, task *Task) (*Task, error)
	UpdateTask(ctx context.Context, uid, taskID string, patch TaskPatch) error
	DeleteTask(ctx context.Context, uid, taskID string) error
	QueryTasks(ctx context.Context, uid string, q TaskQuery) ([]Task, error)

	// Goals
	CreateGoal(ctx context.Context, uid string, goal *Goal) (*Goal, error)
	UpdateGoalProgress(ctx context.Context, uid, goalID string, progress int) error

	// Commit applies a batch atomically.
	Commit(ctx context.Context, uid string, batch Batch) error

	// Preferences
	MergePreferences(ctx context.Context, uid string, doc PreferencesDoc) error
	SeedPreferences(ctx context.Context, uid string, doc PreferencesDoc) error

	// Change notifications. Each subscription receives a full snapshot on
	// subscribe and after every committed write for the account.
	WatchTasks(ctx context.Context, uid string, fn func([]Task), onErr func(error)) (Subscription, error)
	WatchGoals(ctx context.Context, uid string, fn func([]Goal), onErr func(error)) (Subscription, error)
	WatchPreferences(ctx context.Context, uid string, fn func(*PreferencesDoc), onErr func(error)) (Subscription, error)

	Close() error
}

// GenerateID generates a unique document identifier using UUID v4.
func GenerateID() string {
	return uuid.New().String()
}

// FindTask returns the task with the given ID, or nil.
func FindTask(tasks []Task, id string) *Task {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
	}
	return nil
}

// FindTaskByTitle searches for a task by title (case-insensitive).
func FindTaskByTitle(tasks []Task, title string) *Task {
	for i := range tasks {
		if strings.EqualFold(strings.TrimSpace(tasks[i].Title), strings.TrimSpace(title)) {
			return &tasks[i]
		}
	}
	return nil
}
