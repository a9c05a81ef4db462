package prompt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"tasknest/backend"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
}

func sampleTasks() []backend.Task {
	return []backend.Task{
		{ID: "t-1", Title: "Buy groceries", Date: "2026-03-10", Time: "08:00", Category: "Home", Type: backend.TypeTask},
		{ID: "t-2", Title: "Fix bug in parser", Time: "10:00", Category: "Work", Type: backend.TypeTask},
		{ID: "t-3", Title: "Write documentation", Type: backend.TypeTask, Done: true},
		{ID: "t-4", Title: "Buy milk", Type: backend.TypeTask},
		{ID: "t-5", Title: "Ideas", Type: backend.TypeNote},
	}
}

func TestTaskSelection(t *testing.T) {
	tasks := sampleTasks()

	t.Run("filters by typed input", func(t *testing.T) {
		selector := &TaskSelector{Tasks: tasks, Prompt: "Select task:", Reader: strings.NewReader("buy\n2\n")}
		selected, err := selector.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if selected.ID != "t-4" {
			t.Errorf("expected 'Buy milk', got %q", selected.Title)
		}
	})

	t.Run("case insensitive filtering", func(t *testing.T) {
		selector := &TaskSelector{Tasks: tasks, Prompt: "Select task:", Reader: strings.NewReader("BUY\n1\n")}
		selected, err := selector.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if selected.ID != "t-1" {
			t.Errorf("expected 'Buy groceries', got %q", selected.Title)
		}
	})

	t.Run("filter matches category", func(t *testing.T) {
		var out bytes.Buffer
		selector := &TaskSelector{Tasks: tasks, Prompt: "Select task:", Reader: strings.NewReader("work\n"), Writer: &out}
		selected, err := selector.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if selected.ID != "t-2" {
			t.Errorf("expected the Work task, got %q", selected.Title)
		}
		if !strings.Contains(out.String(), "Auto-selected: Fix bug in parser") {
			t.Errorf("expected auto-select message, got %q", out.String())
		}
	})

	t.Run("empty filter lists all tasks", func(t *testing.T) {
		var out bytes.Buffer
		selector := &TaskSelector{Tasks: tasks, Prompt: "Select task:", Reader: strings.NewReader("\n3\n"), Writer: &out}
		selected, err := selector.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if selected.ID != "t-3" {
			t.Errorf("expected third task, got %q", selected.Title)
		}
		if !strings.Contains(out.String(), "5) Ideas [note]") {
			t.Errorf("expected every task listed, got %q", out.String())
		}
	})

	t.Run("zero cancels", func(t *testing.T) {
		selector := &TaskSelector{Tasks: tasks, Reader: strings.NewReader("\n0\n")}
		if _, err := selector.Run(); !errors.Is(err, ErrSelectionCancelled) {
			t.Errorf("expected ErrSelectionCancelled, got %v", err)
		}
	})

	t.Run("out of range and non numeric", func(t *testing.T) {
		selector := &TaskSelector{Tasks: tasks, Reader: strings.NewReader("\n9\n")}
		if _, err := selector.Run(); err == nil {
			t.Error("expected out of range error")
		}
		selector = &TaskSelector{Tasks: tasks, Reader: strings.NewReader("\nabc\n")}
		if _, err := selector.Run(); err == nil {
			t.Error("expected invalid selection error")
		}
	})

	t.Run("no matches", func(t *testing.T) {
		selector := &TaskSelector{Tasks: tasks, Reader: strings.NewReader("zzz\n")}
		if _, err := selector.Run(); !errors.Is(err, ErrNoMatches) {
			t.Errorf("expected ErrNoMatches, got %v", err)
		}
	})

	t.Run("EOF cancels", func(t *testing.T) {
		selector := &TaskSelector{Tasks: tasks, Reader: strings.NewReader("")}
		if _, err := selector.Run(); !errors.Is(err, ErrSelectionCancelled) {
			t.Errorf("expected ErrSelectionCancelled, got %v", err)
		}
	})
}

func TestTaskSelectorEdgeCases(t *testing.T) {
	t.Run("single task auto-selects without prompt", func(t *testing.T) {
		selector := &TaskSelector{Tasks: sampleTasks()[:1]}
		selected, err := selector.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if selected.Title != "Buy groceries" {
			t.Errorf("expected 'Buy groceries', got %q", selected.Title)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		selector := &TaskSelector{}
		if _, err := selector.Run(); !errors.Is(err, ErrNoTasks) {
			t.Errorf("expected ErrNoTasks, got %v", err)
		}
	})

	t.Run("no-prompt mode", func(t *testing.T) {
		selector := &TaskSelector{Tasks: sampleTasks(), NoPrompt: true}
		if _, err := selector.Run(); !errors.Is(err, ErrNoPromptMode) {
			t.Errorf("expected ErrNoPromptMode, got %v", err)
		}
	})
}

func TestFormatTaskLine(t *testing.T) {
	tests := []struct {
		task backend.Task
		want string
	}{
		{sampleTasks()[0], "Buy groceries [open, 2026-03-10, 08:00, Home]"},
		{sampleTasks()[2], "Write documentation [done]"},
		{sampleTasks()[4], "Ideas [note]"},
		{backend.Task{Title: "Run", Time: "07:00", GoalID: "g1", Type: backend.TypeTask}, "Run [open, 07:00, goal]"},
	}
	for _, tt := range tests {
		if got := FormatTaskLine(tt.task); got != tt.want {
			t.Errorf("FormatTaskLine() = %q, want %q", got, tt.want)
		}
	}
}

func TestFilterTasksByAction(t *testing.T) {
	tasks := sampleTasks()

	if got := FilterTasksByAction(tasks, "done", false); len(got) != 3 {
		t.Errorf("done should list 3 open tasks, got %d", len(got))
	}
	if got := FilterTasksByAction(tasks, "reopen", false); len(got) != 1 || got[0].ID != "t-3" {
		t.Errorf("reopen should list the completed task, got %v", got)
	}
	if got := FilterTasksByAction(tasks, "delete", false); len(got) != len(tasks) {
		t.Errorf("delete should list everything, got %d", len(got))
	}
	if got := FilterTasksByAction(tasks, "done", true); len(got) != len(tasks) {
		t.Errorf("showAll should disable filtering, got %d", len(got))
	}
}

func TestInteractiveAddMode(t *testing.T) {
	t.Run("all fields", func(t *testing.T) {
		input := "Call mom\nweekly call\ntask\ntomorrow\n7:30\nFamily\non\n"
		adder := &InteractiveAdder{Reader: strings.NewReader(input), Now: fixedNow}
		fields, err := adder.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := AddFields{
			Title:       "Call mom",
			Description: "weekly call",
			Date:        "2026-03-11",
			Time:        "07:30",
			Category:    "Family",
			Type:        backend.TypeTask,
			Alarm:       backend.AlarmOn,
		}
		if *fields != want {
			t.Errorf("fields = %+v, want %+v", *fields, want)
		}
		task := fields.Task()
		if task.Title != "Call mom" || task.Alarm != backend.AlarmOn {
			t.Errorf("Task() = %+v", task)
		}
	})

	t.Run("empty title re-prompts", func(t *testing.T) {
		var out bytes.Buffer
		adder := &InteractiveAdder{Reader: strings.NewReader("\n  \nReal title\n"), Writer: &out, Now: fixedNow}
		fields, err := adder.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fields.Title != "Real title" {
			t.Errorf("title = %q", fields.Title)
		}
		if strings.Count(out.String(), "Title cannot be empty.") != 2 {
			t.Errorf("expected two re-prompts, got %q", out.String())
		}
	})

	t.Run("invalid date and time re-prompt", func(t *testing.T) {
		var out bytes.Buffer
		input := "Gym\n\n\nnot-a-date\n2026-04-01\n25:00\n18:00\n\n\n"
		adder := &InteractiveAdder{Reader: strings.NewReader(input), Writer: &out, Now: fixedNow}
		fields, err := adder.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fields.Date != "2026-04-01" || fields.Time != "18:00" {
			t.Errorf("date/time = %q %q", fields.Date, fields.Time)
		}
		if fields.Alarm != backend.AlarmDefault {
			t.Errorf("alarm = %q, want default", fields.Alarm)
		}
		if !strings.Contains(out.String(), "Invalid date: not-a-date") || !strings.Contains(out.String(), "Invalid time: 25:00") {
			t.Errorf("expected validation messages, got %q", out.String())
		}
	})

	t.Run("note skips time and alarm", func(t *testing.T) {
		adder := &InteractiveAdder{Reader: strings.NewReader("Thoughts\n\nnote\n\nIdeas\n"), Now: fixedNow}
		fields, err := adder.Run()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fields.Type != backend.TypeNote || fields.Category != "Ideas" || fields.Time != "" {
			t.Errorf("fields = %+v", *fields)
		}
	})

	t.Run("EOF before title", func(t *testing.T) {
		adder := &InteractiveAdder{Reader: strings.NewReader("")}
		if _, err := adder.Run(); err == nil {
			t.Error("expected an error without a title")
		}
	})

	t.Run("no-prompt mode", func(t *testing.T) {
		adder := &InteractiveAdder{NoPrompt: true}
		if _, err := adder.Run(); !errors.Is(err, ErrNoPromptMode) {
			t.Errorf("expected ErrNoPromptMode, got %v", err)
		}
	})
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input    string
		noPrompt bool
		want     bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", false, false},
		{"\n", false, false},
		{"", false, false},
		{"", true, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := Confirm(strings.NewReader(tt.input), &out, "Delete 3 tasks?", tt.noPrompt)
		if got != tt.want {
			t.Errorf("Confirm(%q, noPrompt=%v) = %v, want %v", tt.input, tt.noPrompt, got, tt.want)
		}
		if !tt.noPrompt && !strings.Contains(out.String(), "Delete 3 tasks? [y/N]") {
			t.Errorf("question not printed: %q", out.String())
		}
	}
}

func TestIsInteractive(t *testing.T) {
	if IsInteractive(strings.NewReader("")) {
		t.Error("a string reader is not a terminal")
	}
}
