// Package notification delivers user-facing notifications when a reminder
// fires or an application event needs attention.
package notification

import (
	"io"
	"os/exec"
	"time"
)

// NotificationType identifies the type of notification
type NotificationType string

const (
	NotifyReminder       NotificationType = "reminder"
	NotifyUpdateRequired NotificationType = "update_required"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
	TaskID    string
	// Channel groups reminders by alarm sound selection.
	Channel string
}

// Reminder builds the notification shown when a reminder fires.
func Reminder(title, body, taskID, channel string, at time.Time) Notification {
	return Notification{
		Type:      NotifyReminder,
		Title:     title,
		Message:   body,
		Timestamp: at,
		TaskID:    taskID,
		Channel:   channel,
	}
}

// UpdateRequired builds the notification asking the user to upgrade.
func UpdateRequired(message, downloadURL string, at time.Time) Notification {
	if downloadURL != "" {
		message += " Download: " + downloadURL
	}
	return Notification{
		Type:      NotifyUpdateRequired,
		Title:     "Update required",
		Message:   message,
		Timestamp: at,
	}
}

// NotificationManager fans a notification out to the enabled channels.
type NotificationManager interface {
	Send(n Notification) error
	Close() error
	Channels() []string
}

// NotificationChannel is one delivery path.
type NotificationChannel interface {
	Name() string
	Send(n Notification) error
	Close() error
}

// Config holds the notification configuration
type Config struct {
	Enabled         bool
	OSNotification  OSNotificationConfig
	LogNotification LogNotificationConfig
	Terminal        TerminalConfig
}

// OSNotificationConfig holds OS notification configuration
type OSNotificationConfig struct {
	Enabled          bool
	OnReminder       bool
	OnUpdateRequired bool
	// Urgency is passed to notify-send (low, normal, critical).
	Urgency string
}

// LogNotificationConfig holds log notification configuration
type LogNotificationConfig struct {
	Enabled   bool
	Path      string
	MaxSizeMB int
}

// TerminalConfig holds terminal banner configuration
type TerminalConfig struct {
	Enabled     bool
	AccentColor string
}

// CommandExecutor runs system commands.
type CommandExecutor interface {
	Execute(cmd string, args ...string) error
}

// NewCommandExecutor returns an executor running real system commands.
func NewCommandExecutor() CommandExecutor {
	return execCommand{}
}

type execCommand struct{}

func (execCommand) Execute(cmd string, args ...string) error {
	return exec.Command(cmd, args...).Run()
}

// MockCommandExecutor is a CommandExecutor for tests.
type MockCommandExecutor struct {
	ExecuteFunc func(cmd string, args ...string) error
}

// Execute implements CommandExecutor
func (m *MockCommandExecutor) Execute(cmd string, args ...string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(cmd, args...)
	}
	return nil
}

type options struct {
	executor     CommandExecutor
	platform     string
	sendCallback func(Notification)
	terminalOut  io.Writer
}

// Option configures a manager or an OS channel.
type Option func(*options)

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCommandExecutor sets the executor used for OS notifications.
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(o *options) { o.executor = executor }
}

// WithPlatform overrides the detected platform of OS notifications.
func WithPlatform(platform string) Option {
	return func(o *options) { o.platform = platform }
}

// WithSendCallback observes every notification that is actually sent.
func WithSendCallback(callback func(Notification)) Option {
	return func(o *options) { o.sendCallback = callback }
}

// WithTerminalOutput sets where terminal banners are written.
func WithTerminalOutput(w io.Writer) Option {
	return func(o *options) { o.terminalOut = w }
}
