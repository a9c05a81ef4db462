package syncengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tasknest/backend"
	"tasknest/internal/utils"
)

// Task mutations go to the remote store only. The resulting change
// notification is what updates the engine state.

func (e *Engine) requireAccount() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached {
		return "", utils.ErrAccountNotAttached()
	}
	return e.account.UID, nil
}

func (e *Engine) requirePremium(feature string) (string, error) {
	uid, err := e.requireAccount()
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	premium := e.prefs.Premium
	e.mu.Unlock()
	if !premium {
		return "", utils.ErrPremiumRequired(feature)
	}
	return uid, nil
}

// requireAlarmOverride gates per-task alarm choices other than the default.
func (e *Engine) requireAlarmOverride(a backend.AlarmOverride) (string, error) {
	if a.Normalize() == backend.AlarmDefault {
		return e.requireAccount()
	}
	return e.requirePremium("per-task alarm override")
}

// goalOf returns the goal a task in the current state is linked to.
func (e *Engine) goalOf(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := backend.FindTask(e.tasks, id); t != nil {
		return t.GoalID
	}
	return ""
}

func (e *Engine) refreshGoalProgress(ctx context.Context, goalID string) {
	if goalID == "" {
		return
	}
	if err := e.RecalculateGoalProgress(ctx, goalID); err != nil {
		utils.Warnf("sync: failed to update goal progress: %v", err)
	}
}

// ResolveTask finds a task in the current state by ID, ID prefix or title.
func (e *Engine) ResolveTask(ref string) (backend.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t := backend.FindTask(e.tasks, ref); t != nil {
		return *t, nil
	}
	var match *backend.Task
	for i := range e.tasks {
		if len(ref) >= 4 && strings.HasPrefix(e.tasks[i].ID, ref) {
			if match != nil {
				return backend.Task{}, fmt.Errorf("ambiguous task reference %q", ref)
			}
			match = &e.tasks[i]
		}
	}
	if match != nil {
		return *match, nil
	}
	if t := backend.FindTaskByTitle(e.tasks, ref); t != nil {
		return *t, nil
	}
	return backend.Task{}, utils.ErrTaskNotFound(ref)
}

// ResolveGoal finds a goal in the current state by ID or title.
func (e *Engine) ResolveGoal(ref string) (backend.Goal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, g := range e.goals {
		if g.ID == ref || strings.EqualFold(g.Title, strings.TrimSpace(ref)) {
			return g, nil
		}
	}
	return backend.Goal{}, utils.ErrGoalNotFound(ref)
}

func normalizeTask(t *backend.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title is required")
	}
	if t.Time != "" {
		clock, err := utils.NormalizeClock(t.Time)
		if err != nil {
			return err
		}
		t.Time = clock
	}
	if t.Type == "" {
		t.Type = backend.TypeTask
	}
	t.Alarm = t.Alarm.Normalize()
	return nil
}

// AddTask creates a task. Alarm overrides other than the default need
// premium.
func (e *Engine) AddTask(ctx context.Context, task backend.Task) (*backend.Task, error) {
	if err := normalizeTask(&task); err != nil {
		return nil, err
	}
	uid, err := e.requireAlarmOverride(task.Alarm)
	if err != nil {
		return nil, err
	}
	created, err := e.store.CreateTask(ctx, uid, &task)
	if err != nil {
		return nil, fmt.Errorf("failed to add task: %w", err)
	}
	return created, nil
}

// EditTask merge-updates a task. Changing the completion flag of a
// goal-linked task recomputes the goal's progress.
func (e *Engine) EditTask(ctx context.Context, id string, patch backend.TaskPatch) error {
	uid, err := e.requireAccount()
	if err != nil {
		return err
	}
	if patch.Alarm != nil {
		if _, err := e.requireAlarmOverride(*patch.Alarm); err != nil {
			return err
		}
	}
	if patch.Time != nil && *patch.Time != "" {
		clock, err := utils.NormalizeClock(*patch.Time)
		if err != nil {
			return err
		}
		patch.Time = &clock
	}
	if patch.Alarm != nil {
		a := patch.Alarm.Normalize()
		patch.Alarm = &a
	}
	if err := e.store.UpdateTask(ctx, uid, id, patch); err != nil {
		return fmt.Errorf("failed to edit task: %w", err)
	}
	if patch.Done != nil {
		e.refreshGoalProgress(ctx, e.goalOf(id))
	}
	return nil
}

// ToggleTask flips a task's completion flag and recomputes the progress of
// its goal. It returns the new flag.
func (e *Engine) ToggleTask(ctx context.Context, id string) (bool, error) {
	uid, err := e.requireAccount()
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	t := backend.FindTask(e.tasks, id)
	var current backend.Task
	if t != nil {
		current = *t
	}
	e.mu.Unlock()
	if t == nil {
		return false, utils.ErrTaskNotFound(id)
	}

	done := !current.Done
	if err := e.store.UpdateTask(ctx, uid, id, backend.TaskPatch{Done: &done}); err != nil {
		return false, fmt.Errorf("failed to toggle task: %w", err)
	}
	e.refreshGoalProgress(ctx, current.GoalID)
	return done, nil
}

// DeleteTask deletes a task. Progress of its goal is recomputed over the
// tasks still linked.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	uid, err := e.requireAccount()
	if err != nil {
		return err
	}
	goalID := e.goalOf(id)
	if err := e.store.DeleteTask(ctx, uid, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	e.refreshGoalProgress(ctx, goalID)
	return nil
}

// FutureTasks returns the tasks dated strictly after today.
func (e *Engine) FutureTasks(ctx context.Context, today string) ([]backend.Task, error) {
	uid, err := e.requireAccount()
	if err != nil {
		return nil, err
	}
	return e.store.QueryTasks(ctx, uid, backend.TaskQuery{DateAfter: today})
}

// DeleteFutureTasks deletes every task dated strictly after today in one
// batch. confirm is shown the affected tasks and can cancel the deletion.
// It returns how many tasks were deleted.
func (e *Engine) DeleteFutureTasks(ctx context.Context, today string, confirm func([]backend.Task) bool) (int, error) {
	uid, err := e.requirePremium("bulk deletion of future tasks")
	if err != nil {
		return 0, err
	}

	tasks, err := e.store.QueryTasks(ctx, uid, backend.TaskQuery{DateAfter: today})
	if err != nil {
		return 0, fmt.Errorf("failed to query future tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	if confirm != nil && !confirm(tasks) {
		return 0, nil
	}

	batch := backend.Batch{}
	for _, t := range tasks {
		batch.DeleteTasks = append(batch.DeleteTasks, t.ID)
	}
	if err := e.store.Commit(ctx, uid, batch); err != nil {
		return 0, fmt.Errorf("failed to delete future tasks: %w", err)
	}
	utils.Infof("sync: deleted %d future tasks", len(tasks))
	return len(tasks), nil
}

// AddGoal creates a goal and materializes its tasks for the next 30 days.
// It returns the goal and the number of tasks created.
func (e *Engine) AddGoal(ctx context.Context, goal backend.Goal) (*backend.Goal, int, error) {
	uid, err := e.requirePremium("goals")
	if err != nil {
		return nil, 0, err
	}
	if err := normalizeGoal(&goal); err != nil {
		return nil, 0, err
	}

	created, err := e.store.CreateGoal(ctx, uid, &goal)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to add goal: %w", err)
	}

	tasks := ExpandGoal(*created, e.now())
	if err := e.store.Commit(ctx, uid, backend.Batch{PutTasks: tasks}); err != nil {
		return created, 0, fmt.Errorf("failed to create goal tasks: %w", err)
	}
	return created, len(tasks), nil
}

func normalizeGoal(g *backend.Goal) error {
	if strings.TrimSpace(g.Title) == "" {
		return fmt.Errorf("goal title is required")
	}
	for _, d := range g.Days {
		if d < 0 || d > 6 {
			return utils.ErrInvalidWeekday(strconv.Itoa(d))
		}
	}
	hours := make([]string, 0, len(g.Hours))
	for _, h := range g.Hours {
		clock, err := utils.NormalizeClock(h)
		if err != nil {
			return err
		}
		hours = append(hours, clock)
	}
	if len(hours) == 0 {
		return fmt.Errorf("goal needs at least one hour")
	}
	g.Hours = hours
	if g.Frequency == 0 {
		g.Frequency = len(hours)
	}
	return nil
}

// DeleteGoal deletes a goal together with its linked tasks in one batch.
func (e *Engine) DeleteGoal(ctx context.Context, goalID string) error {
	uid, err := e.requireAccount()
	if err != nil {
		return err
	}

	linked, err := e.store.QueryTasks(ctx, uid, backend.TaskQuery{GoalID: goalID})
	if err != nil {
		return fmt.Errorf("failed to query goal tasks: %w", err)
	}

	batch := backend.Batch{DeleteGoals: []string{goalID}}
	for _, t := range linked {
		batch.DeleteTasks = append(batch.DeleteTasks, t.ID)
	}
	if err := e.store.Commit(ctx, uid, batch); err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	return nil
}

// RecalculateGoalProgress recomputes a goal's progress from its linked
// tasks. A goal without linked tasks is left untouched.
func (e *Engine) RecalculateGoalProgress(ctx context.Context, goalID string) error {
	uid, err := e.requireAccount()
	if err != nil {
		return err
	}

	linked, err := e.store.QueryTasks(ctx, uid, backend.TaskQuery{GoalID: goalID})
	if err != nil {
		return err
	}
	progress, ok := Progress(linked)
	if !ok {
		return nil
	}
	return e.store.UpdateGoalProgress(ctx, uid, goalID, progress)
}
