package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// Sentinel errors carried inside the suggestion wrappers below, so callers
// can match them with errors.Is.
var (
	ErrPremium      = errors.New("premium plan required")
	ErrNotAttached  = errors.New("no account attached")
	ErrNoSound      = errors.New("no custom alarm sound selected")
	ErrNeedsUpdate  = errors.New("application update required")
	ErrTaskMissing  = errors.New("task not found")
	ErrGoalMissing  = errors.New("goal not found")
	ErrBadTimeOfDay = errors.New("invalid time")
)

// ErrTaskNotFound returns an error for when a task is not found.
func ErrTaskNotFound(searchTerm string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: %s", ErrTaskMissing, searchTerm),
		Suggestion: "Check the search term or use 'tasknest task list' to see all tasks",
	}
}

// ErrGoalNotFound returns an error for when a goal is not found.
func ErrGoalNotFound(searchTerm string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: %s", ErrGoalMissing, searchTerm),
		Suggestion: "Use 'tasknest goal list' to see all goals",
	}
}

// ErrPremiumRequired returns an error for a feature reserved to premium accounts.
func ErrPremiumRequired(feature string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: %s", ErrPremium, feature),
		Suggestion: "Upgrade to the premium plan to unlock this feature",
	}
}

// ErrAccountNotAttached returns an error when an account operation runs without an account.
func ErrAccountNotAttached() error {
	return &ErrorWithSuggestion{
		Err:        ErrNotAttached,
		Suggestion: "Set account.uid in your config file or pass --account",
	}
}

// ErrNoCustomSound returns an error when a sound test runs with no sound selected.
func ErrNoCustomSound() error {
	return &ErrorWithSuggestion{
		Err:        ErrNoSound,
		Suggestion: "Select a sound with 'tasknest sound set <file>'",
	}
}

// ErrUpdateRequired returns an error when the running version is below the minimum.
func ErrUpdateRequired(current, minimum, url string) error {
	suggestion := fmt.Sprintf("Install version %s or later", minimum)
	if url != "" {
		suggestion = fmt.Sprintf("Download version %s or later from %s", minimum, url)
	}
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: running %s, minimum is %s", ErrNeedsUpdate, current, minimum),
		Suggestion: suggestion,
	}
}

// ErrInvalidDate returns an error for an invalid date string.
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date: %s", dateStr),
		Suggestion: "Use date format YYYY-MM-DD (e.g., 2026-01-15) or today, tomorrow, +3d",
	}
}

// ErrInvalidTime returns an error for an invalid time-of-day string.
func ErrInvalidTime(timeStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: %s", ErrBadTimeOfDay, timeStr),
		Suggestion: "Use time format HH:MM (e.g., 09:30)",
	}
}

// ErrInvalidWeekday returns an error for a weekday index outside 0-6.
func ErrInvalidWeekday(day string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid weekday: %s", day),
		Suggestion: "Use weekday numbers 0-6 (0 = Sunday) or names like mon,thu",
	}
}

// ErrStoreOffline returns an error when the store is unreachable with smart suggestions.
func ErrStoreOffline(reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("store is unavailable: %s", reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "locked") || strings.Contains(lowerReason, "busy") {
		return "Another tasknest process holds the database; try again in a moment"
	}

	if strings.Contains(lowerReason, "permission denied") {
		return "Check the permissions of the store path configured in store.path"
	}

	if strings.Contains(lowerReason, "no such file") {
		return "Check that the directory configured in store.path exists"
	}

	return "Check the store configuration and try again"
}
