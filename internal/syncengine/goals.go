package syncengine

import (
	"math"
	"slices"
	"time"

	"tasknest/backend"
	"tasknest/internal/utils"
)

// GoalWindowDays is how many days, starting today, a new goal fills.
const GoalWindowDays = 30

// GoalTaskCategory is the category given to tasks generated from a goal.
const GoalTaskCategory = "Urgent"

// ExpandGoal returns the tasks a goal generates: one per hour on every
// matching weekday from today through today+29, in now's location.
func ExpandGoal(goal backend.Goal, now time.Time) []backend.Task {
	y, m, d := now.Date()
	var tasks []backend.Task
	for i := 0; i < GoalWindowDays; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, now.Location())
		if !slices.Contains(goal.Days, int(day.Weekday())) {
			continue
		}
		for _, hour := range goal.Hours {
			tasks = append(tasks, backend.Task{
				Title:       goal.Title,
				Description: "Goal: " + goal.Title,
				Date:        day.Format(utils.DateLayout),
				Time:        hour,
				Category:    GoalTaskCategory,
				Type:        backend.TypeTask,
				Alarm:       backend.AlarmDefault,
				GoalID:      goal.ID,
			})
		}
	}
	return tasks
}

// Progress returns round(100 * completed / total) over tasks. ok is false
// when there are no tasks.
func Progress(tasks []backend.Task) (progress int, ok bool) {
	if len(tasks) == 0 {
		return 0, false
	}
	completed := 0
	for _, t := range tasks {
		if t.Done {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(len(tasks)) * 100)), true
}
