package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tasknest/backend"
	"tasknest/internal/cli/prompt"
	"tasknest/internal/utils"
)

// newTaskCmd creates the 'task' command group
func newTaskCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks and notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doTaskList(cmd.Context(), cfg, stdout, taskListOptions{})
		},
	}

	taskCmd.AddCommand(newTaskAddCmd(stdout, cfg))
	taskCmd.AddCommand(newTaskListCmd(stdout, cfg))
	taskCmd.AddCommand(newTaskToggleCmd(stdout, cfg))
	taskCmd.AddCommand(newTaskEditCmd(stdout, cfg))
	taskCmd.AddCommand(newTaskDeleteCmd(stdout, cfg))
	taskCmd.AddCommand(newTaskDeleteFutureCmd(stdout, cfg))
	return taskCmd
}

// newTaskAddCmd creates the 'task add' subcommand
func newTaskAddCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a task",
		Long:  "Add a task or a note. Without a title the fields are asked for interactively.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task backend.Task
			if len(args) == 0 {
				adder := &prompt.InteractiveAdder{
					Reader:   cfg.stdin(),
					Writer:   stdout,
					NoPrompt: cfg.NoPrompt,
					Now:      cfg.now,
				}
				fields, err := adder.Run()
				if err != nil {
					return err
				}
				task = fields.Task()
			} else {
				var err error
				task, err = taskFromFlags(cmd, args[0], cfg)
				if err != nil {
					return err
				}
			}
			return doTaskAdd(cmd.Context(), cfg, stdout, task)
		},
	}
	addTaskFlags(cmd)
	cmd.Flags().Bool("note", false, "Add a note instead of a task")
	return cmd
}

func addTaskFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("desc", "d", "", "Description")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD, today, tomorrow, +Nd, +Nw, +Nm)")
	cmd.Flags().StringP("time", "t", "", "Reminder time (HH:MM)")
	cmd.Flags().StringP("category", "c", "", "Category")
	cmd.Flags().String("alarm", "", "Alarm override (default, on, off)")
}

func taskFromFlags(cmd *cobra.Command, title string, cfg *Config) (backend.Task, error) {
	task := backend.Task{Title: title, Type: backend.TypeTask}
	task.Description, _ = cmd.Flags().GetString("desc")
	task.Category, _ = cmd.Flags().GetString("category")
	if note, _ := cmd.Flags().GetBool("note"); note {
		task.Type = backend.TypeNote
	}

	dateStr, _ := cmd.Flags().GetString("date")
	date, err := utils.ParseDateFlag(dateStr, cfg.now())
	if err != nil {
		return task, err
	}
	task.Date = date

	if clock, _ := cmd.Flags().GetString("time"); clock != "" {
		if task.Time, err = utils.NormalizeClock(clock); err != nil {
			return task, err
		}
	}

	alarmStr, _ := cmd.Flags().GetString("alarm")
	if task.Alarm, err = backend.ParseAlarmOverride(alarmStr); err != nil {
		return task, err
	}
	return task, nil
}

func doTaskAdd(ctx context.Context, cfg *Config, stdout io.Writer, task backend.Task) error {
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	created, err := s.engine.AddTask(ctx, task)
	if err != nil {
		return err
	}
	if cfg.jsonOutput() {
		return writeJSON(stdout, actionResponse{Action: "add", Task: created, Result: ResultActionCompleted})
	}
	completed(stdout, cfg, "Added %s: %s", created.Type, prompt.FormatTaskLine(*created))
	return nil
}

type actionResponse struct {
	Action string        `json:"action"`
	Task   *backend.Task `json:"task,omitempty"`
	Count  int           `json:"count,omitempty"`
	Result string        `json:"result"`
}

type taskListOptions struct {
	all      bool
	date     string
	category string
}

// newTaskListCmd creates the 'task list' subcommand
func newTaskListCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := taskListOptions{}
			opts.all, _ = cmd.Flags().GetBool("all")
			opts.category, _ = cmd.Flags().GetString("category")
			dateStr, _ := cmd.Flags().GetString("date")
			date, err := utils.ParseDateFlag(dateStr, cfg.now())
			if err != nil {
				return err
			}
			opts.date = date
			return doTaskList(cmd.Context(), cfg, stdout, opts)
		},
	}
	cmd.Flags().BoolP("all", "a", false, "Include completed tasks")
	cmd.Flags().String("date", "", "Only tasks on this date")
	cmd.Flags().StringP("category", "c", "", "Only tasks in this category")
	return cmd
}

func filterTasks(tasks []backend.Task, opts taskListOptions) []backend.Task {
	var out []backend.Task
	for _, t := range tasks {
		if !opts.all && t.Done {
			continue
		}
		if opts.date != "" && t.Date != opts.date {
			continue
		}
		if opts.category != "" && !strings.EqualFold(t.Category, opts.category) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func doTaskList(ctx context.Context, cfg *Config, stdout io.Writer, opts taskListOptions) error {
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	tasks := filterTasks(s.engine.Snapshot().Tasks, opts)
	if cfg.jsonOutput() {
		if tasks == nil {
			tasks = []backend.Task{}
		}
		return writeJSON(stdout, struct {
			Tasks  []backend.Task `json:"tasks"`
			Count  int            `json:"count"`
			Result string         `json:"result"`
		}{tasks, len(tasks), ResultInfoOnly})
	}

	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(stdout, "No tasks.")
	}
	for _, t := range tasks {
		mark := "[ ]"
		switch {
		case t.IsNote():
			mark = " - "
		case t.Done:
			mark = "[x]"
		}
		_, _ = fmt.Fprintf(stdout, "%s %s  (%s)\n", mark, prompt.FormatTaskLine(t), shortID(t.ID))
	}
	if cfg.NoPrompt {
		_, _ = fmt.Fprintln(stdout, ResultInfoOnly)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveTask finds the task a command acts on. ref may be an ID, an ID
// prefix, a title or part of one; several partial matches, or no ref at
// all, open the interactive selector.
func resolveTask(s *session, cfg *Config, stdout io.Writer, ref, action string) (backend.Task, error) {
	tasks := s.engine.Snapshot().Tasks

	var candidates []backend.Task
	if ref != "" {
		t, err := s.engine.ResolveTask(ref)
		if err == nil {
			return t, nil
		}
		needle := strings.ToLower(strings.TrimSpace(ref))
		for _, t := range tasks {
			if strings.Contains(strings.ToLower(t.Title), needle) {
				candidates = append(candidates, t)
			}
		}
		switch len(candidates) {
		case 0:
			return backend.Task{}, err
		case 1:
			return candidates[0], nil
		}
		if cfg.NoPrompt {
			return backend.Task{}, fmt.Errorf("%q matches %d tasks; use the task ID: %w", ref, len(candidates), prompt.ErrNoPromptMode)
		}
	} else {
		candidates = prompt.FilterTasksByAction(tasks, action, false)
	}

	selector := &prompt.TaskSelector{
		Tasks:    candidates,
		Prompt:   fmt.Sprintf("Select a task to %s:", action),
		Reader:   cfg.stdin(),
		Writer:   stdout,
		NoPrompt: cfg.NoPrompt,
	}
	selected, err := selector.Run()
	if err != nil {
		return backend.Task{}, err
	}
	return *selected, nil
}

func refArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// newTaskToggleCmd creates the 'task toggle' subcommand
func newTaskToggleCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "toggle [task]",
		Aliases: []string{"done"},
		Short:   "Toggle a task between open and done",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			task, err := resolveTask(s, cfg, stdout, refArg(args), "done")
			if err != nil {
				return err
			}
			done, err := s.engine.ToggleTask(ctx, task.ID)
			if err != nil {
				return err
			}
			task.Done = done
			if cfg.jsonOutput() {
				return writeJSON(stdout, actionResponse{Action: "toggle", Task: &task, Result: ResultActionCompleted})
			}
			state := "open"
			if done {
				state = "done"
			}
			completed(stdout, cfg, "Marked %s: %s", state, task.Title)
			return nil
		},
	}
}

// newTaskEditCmd creates the 'task edit' subcommand
func newTaskEditCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit [task]",
		Short: "Edit a task",
		Long:  "Edit a task. Only the given flags are changed; pass an empty value to clear a field.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := patchFromFlags(cmd, cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			task, err := resolveTask(s, cfg, stdout, refArg(args), "edit")
			if err != nil {
				return err
			}
			if err := s.engine.EditTask(ctx, task.ID, patch); err != nil {
				return err
			}
			patch.Apply(&task)
			if cfg.jsonOutput() {
				return writeJSON(stdout, actionResponse{Action: "edit", Task: &task, Result: ResultActionCompleted})
			}
			completed(stdout, cfg, "Updated: %s", prompt.FormatTaskLine(task))
			return nil
		},
	}
	addTaskFlags(cmd)
	cmd.Flags().String("title", "", "New title")
	cmd.Flags().String("type", "", "Type (task, note)")
	return cmd
}

func patchFromFlags(cmd *cobra.Command, cfg *Config) (backend.TaskPatch, error) {
	var patch backend.TaskPatch
	flags := cmd.Flags()
	str := func(name string) *string {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetString(name)
		return &v
	}

	if v := str("title"); v != nil {
		if strings.TrimSpace(*v) == "" {
			return patch, fmt.Errorf("task title cannot be empty")
		}
		patch.Title = v
	}
	patch.Description = str("desc")
	patch.Category = str("category")

	if v := str("date"); v != nil {
		date, err := utils.ParseDateFlag(*v, cfg.now())
		if err != nil {
			return patch, err
		}
		patch.Date = &date
	}
	if v := str("time"); v != nil {
		clock := ""
		if *v != "" {
			var err error
			if clock, err = utils.NormalizeClock(*v); err != nil {
				return patch, err
			}
		}
		patch.Time = &clock
	}
	if v := str("alarm"); v != nil {
		alarm, err := backend.ParseAlarmOverride(*v)
		if err != nil {
			return patch, err
		}
		patch.Alarm = &alarm
	}
	if v := str("type"); v != nil {
		tt := backend.TaskType(strings.ToLower(*v))
		if tt != backend.TypeTask && tt != backend.TypeNote {
			return patch, fmt.Errorf("invalid type %q: must be task or note", *v)
		}
		patch.Type = &tt
	}

	if patch == (backend.TaskPatch{}) {
		return patch, fmt.Errorf("nothing to change: pass at least one field flag")
	}
	return patch, nil
}

// newTaskDeleteCmd creates the 'task delete' subcommand
func newTaskDeleteCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [task]",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			task, err := resolveTask(s, cfg, stdout, refArg(args), "delete")
			if err != nil {
				return err
			}
			if err := s.engine.DeleteTask(ctx, task.ID); err != nil {
				return err
			}
			if cfg.jsonOutput() {
				return writeJSON(stdout, actionResponse{Action: "delete", Task: &task, Result: ResultActionCompleted})
			}
			completed(stdout, cfg, "Deleted: %s", task.Title)
			return nil
		},
	}
}

// newTaskDeleteFutureCmd creates the 'task delete-future' subcommand
func newTaskDeleteFutureCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-future",
		Short: "Delete every task dated after today (premium)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			confirm := func(tasks []backend.Task) bool {
				if !cfg.NoPrompt {
					for _, t := range tasks {
						_, _ = fmt.Fprintf(stdout, "  %s\n", prompt.FormatTaskLine(t))
					}
				}
				return prompt.Confirm(cfg.stdin(), stdout, fmt.Sprintf("Delete %d future tasks?", len(tasks)), cfg.NoPrompt)
			}
			n, err := s.engine.DeleteFutureTasks(ctx, utils.Today(cfg.now()), confirm)
			if err != nil {
				return err
			}
			if cfg.jsonOutput() {
				return writeJSON(stdout, actionResponse{Action: "delete-future", Count: n, Result: ResultActionCompleted})
			}
			completed(stdout, cfg, "Deleted %d future tasks", n)
			return nil
		},
	}
}
