// Package prompt handles interactive prompts with no-prompt mode support.
// It provides filtered task selection, an interactive add mode with field
// validation and yes/no confirmation.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"tasknest/backend"
	"tasknest/internal/utils"
)

// Sentinel errors for prompt operations.
var (
	ErrSelectionCancelled = errors.New("selection cancelled")
	ErrNoPromptMode       = errors.New("interactive prompts disabled (--no-prompt / -y)")
	ErrNoTasks            = errors.New("no tasks available")
	ErrNoMatches          = errors.New("no tasks match the filter")
)

// IsInteractive reports whether r is a terminal a user can answer from.
func IsInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Confirm asks a yes/no question. In no-prompt mode it answers yes without
// asking. Anything other than y/yes, including EOF, is a no.
func Confirm(r io.Reader, w io.Writer, question string, noPrompt bool) bool {
	if noPrompt {
		return true
	}
	if w == nil {
		w = io.Discard
	}
	_, _ = fmt.Fprintf(w, "%s [y/N]: ", question)

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		_, _ = fmt.Fprintln(w)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

// TaskSelector lets the user narrow a task list by typed text and pick one.
type TaskSelector struct {
	Tasks    []backend.Task
	Prompt   string
	Reader   io.Reader
	Writer   io.Writer
	NoPrompt bool
}

// Run executes the task selection prompt.
// If NoPrompt is true, returns ErrNoPromptMode.
// If there is exactly one task, auto-selects it.
func (s *TaskSelector) Run() (*backend.Task, error) {
	if s.NoPrompt {
		return nil, ErrNoPromptMode
	}
	if len(s.Tasks) == 0 {
		return nil, ErrNoTasks
	}
	if len(s.Tasks) == 1 {
		return &s.Tasks[0], nil
	}

	writer := s.Writer
	if writer == nil {
		writer = io.Discard
	}
	scanner := bufio.NewScanner(s.Reader)

	_, _ = fmt.Fprintf(writer, "%s\nFilter (or press Enter to show all): ", s.Prompt)
	if !scanner.Scan() {
		return nil, ErrSelectionCancelled
	}
	filter := strings.ToLower(strings.TrimSpace(scanner.Text()))

	var filtered []backend.Task
	for _, t := range s.Tasks {
		if filter == "" ||
			strings.Contains(strings.ToLower(t.Title), filter) ||
			strings.Contains(strings.ToLower(t.Category), filter) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoMatches
	}
	if len(filtered) == 1 {
		_, _ = fmt.Fprintf(writer, "Auto-selected: %s\n", filtered[0].Title)
		return &filtered[0], nil
	}

	for i, t := range filtered {
		_, _ = fmt.Fprintf(writer, "  %d) %s\n", i+1, FormatTaskLine(t))
	}
	_, _ = fmt.Fprintf(writer, "Select (0 to cancel): ")
	if !scanner.Scan() {
		return nil, ErrSelectionCancelled
	}

	input := strings.TrimSpace(scanner.Text())
	num, err := strconv.Atoi(input)
	if err != nil {
		return nil, fmt.Errorf("invalid selection: %s", input)
	}
	if num == 0 {
		return nil, ErrSelectionCancelled
	}
	if num < 1 || num > len(filtered) {
		return nil, fmt.Errorf("selection out of range: %d", num)
	}
	return &filtered[num-1], nil
}

// FormatTaskLine renders a task as "title [state, date, time, category]".
func FormatTaskLine(t backend.Task) string {
	state := "open"
	if t.Done {
		state = "done"
	}
	if t.IsNote() {
		state = "note"
	}

	meta := []string{state}
	if t.Date != "" {
		meta = append(meta, t.Date)
	}
	if t.Time != "" {
		meta = append(meta, t.Time)
	}
	if t.Category != "" {
		meta = append(meta, t.Category)
	}
	if t.GoalID != "" {
		meta = append(meta, "goal")
	}
	return fmt.Sprintf("%s [%s]", t.Title, strings.Join(meta, ", "))
}

// FilterTasksByAction returns the tasks an action can meaningfully apply to.
// "done" shows only open tasks and "reopen" only completed ones; other
// actions see everything. showAll disables the filter.
func FilterTasksByAction(tasks []backend.Task, action string, showAll bool) []backend.Task {
	if showAll || (action != "done" && action != "reopen") {
		result := make([]backend.Task, len(tasks))
		copy(result, tasks)
		return result
	}

	wantDone := action == "reopen"
	var filtered []backend.Task
	for _, t := range tasks {
		if !t.IsNote() && t.Done == wantDone {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// AddFields holds the field values collected during interactive add mode.
type AddFields struct {
	Title       string
	Description string
	Date        string
	Time        string
	Category    string
	Type        backend.TaskType
	Alarm       backend.AlarmOverride
}

// InteractiveAdder prompts for each task field in turn when a task is added
// without a title.
type InteractiveAdder struct {
	Reader   io.Reader
	Writer   io.Writer
	NoPrompt bool
	Now      func() time.Time
}

// Run executes the interactive add mode. Invalid dates, times and alarm
// values are re-prompted; an empty answer skips an optional field.
func (a *InteractiveAdder) Run() (*AddFields, error) {
	if a.NoPrompt {
		return nil, ErrNoPromptMode
	}

	writer := a.Writer
	if writer == nil {
		writer = io.Discard
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	scanner := bufio.NewScanner(a.Reader)
	fields := &AddFields{Type: backend.TypeTask, Alarm: backend.AlarmDefault}

	for {
		_, _ = fmt.Fprint(writer, "Title (required): ")
		if !scanner.Scan() {
			return nil, errors.New("no input for title")
		}
		fields.Title = strings.TrimSpace(scanner.Text())
		if fields.Title != "" {
			break
		}
		_, _ = fmt.Fprintln(writer, "Title cannot be empty.")
	}

	_, _ = fmt.Fprint(writer, "Description (optional): ")
	if scanner.Scan() {
		fields.Description = strings.TrimSpace(scanner.Text())
	}

	_, _ = fmt.Fprint(writer, "Type (task/note, default task): ")
	if scanner.Scan() && strings.EqualFold(strings.TrimSpace(scanner.Text()), "note") {
		fields.Type = backend.TypeNote
	}

	for {
		_, _ = fmt.Fprint(writer, "Date (YYYY-MM-DD, today, tomorrow, +Nd, optional): ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			break
		}
		date, err := utils.ParseDateFlag(input, now())
		if err != nil {
			_, _ = fmt.Fprintf(writer, "Invalid date: %s. Use YYYY-MM-DD, today, tomorrow, +Nd, +Nw, +Nm\n", input)
			continue
		}
		fields.Date = date
		break
	}

	if fields.Type == backend.TypeTask {
		for {
			_, _ = fmt.Fprint(writer, "Time (HH:MM, optional): ")
			if !scanner.Scan() {
				break
			}
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				break
			}
			clock, err := utils.NormalizeClock(input)
			if err != nil {
				_, _ = fmt.Fprintf(writer, "Invalid time: %s. Use HH:MM\n", input)
				continue
			}
			fields.Time = clock
			break
		}
	}

	_, _ = fmt.Fprint(writer, "Category (optional): ")
	if scanner.Scan() {
		fields.Category = strings.TrimSpace(scanner.Text())
	}

	if fields.Type == backend.TypeTask {
		for {
			_, _ = fmt.Fprint(writer, "Alarm (default/on/off, optional): ")
			if !scanner.Scan() {
				break
			}
			alarm, err := backend.ParseAlarmOverride(scanner.Text())
			if err != nil {
				_, _ = fmt.Fprintln(writer, "Invalid alarm: must be default, on or off")
				continue
			}
			fields.Alarm = alarm
			break
		}
	}

	return fields, nil
}

// Task converts the collected fields into a new task.
func (f *AddFields) Task() backend.Task {
	return backend.Task{
		Title:       f.Title,
		Description: f.Description,
		Date:        f.Date,
		Time:        f.Time,
		Category:    f.Category,
		Type:        f.Type,
		Alarm:       f.Alarm,
	}
}
