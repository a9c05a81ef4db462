// Package history keeps a local SQLite record of delivered reminders: when
// each fired, which path armed it, whether the notification went out and
// whether an alarm sound started.
package history

import (
	"os"
	"time"
)

// Sources of a delivered reminder.
const (
	SourceTimer  = "timer"
	SourceNative = "native"
)

// Delivery is one fired reminder.
type Delivery struct {
	ID        int64     `json:"id"`
	At        time.Time `json:"at"`
	TaskID    string    `json:"task_id"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel"`
	Source    string    `json:"source"`
	Sound     bool      `json:"sound"`
	Notified  bool      `json:"notified"`
	ErrorType string    `json:"error_type,omitempty"`
}

// IsEnabledFromEnv checks the TASKNEST_HISTORY_ENABLED environment variable
// and returns the effective enabled state. The variable overrides the
// config value.
func IsEnabledFromEnv(configEnabled bool) bool {
	envVal := os.Getenv("TASKNEST_HISTORY_ENABLED")
	if envVal == "" {
		return configEnabled
	}
	return envVal == "true" || envVal == "1"
}
