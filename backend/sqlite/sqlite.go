// Package sqlite implements backend.RemoteStore on a SQLite database with
// in-process real-time change notifications.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
	"tasknest/backend"
)

// Backend implements backend.RemoteStore using SQLite
type Backend struct {
	db  *sql.DB
	hub *hub
	now func() time.Time
}

var _ backend.RemoteStore = (*Backend)(nil)

// New opens the database at path and initializes the schema.
func New(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers for file databases.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db, hub: newHub(), now: time.Now}
	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return b, nil
}

// initSchema creates the database tables if they don't exist
func (b *Backend) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			date TEXT DEFAULT '',
			time TEXT DEFAULT '',
			category TEXT DEFAULT '',
			done INTEGER NOT NULL DEFAULT 0,
			type TEXT NOT NULL DEFAULT 'task',
			alarm TEXT DEFAULT '',
			goal_id TEXT DEFAULT '',
			created TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_uid ON tasks(uid);
		CREATE INDEX IF NOT EXISTS idx_tasks_goal ON tasks(uid, goal_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_date ON tasks(uid, date);

		CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			title TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			days TEXT NOT NULL DEFAULT '[]',
			hours TEXT NOT NULL DEFAULT '[]',
			frequency INTEGER NOT NULL DEFAULT 1,
			created TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_goals_uid ON goals(uid);

		CREATE TABLE IF NOT EXISTS preferences (
			uid TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			modified TEXT NOT NULL
		);
	`

	if _, err := b.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}
	if _, err := b.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return err
	}

	_, err := b.db.Exec(schema)
	return err
}

// Close stops every subscription and closes the database.
func (b *Backend) Close() error {
	b.hub.closeAll()
	return b.db.Close()
}

// Refresh re-delivers snapshots to every subscriber. Used when another
// process has written the database file.
func (b *Backend) Refresh() {
	b.hub.notifyAll()
}

// --- Tasks ---

const taskColumns = "id, title, description, date, time, category, done, type, alarm, goal_id, created"

// CreateTask inserts a task, assigning its ID and creation time.
func (b *Backend) CreateTask(ctx context.Context, uid string, task *backend.Task) (*backend.Task, error) {
	created := *task
	created.ID = backend.GenerateID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = b.now().UTC()
	}
	if created.Type == "" {
		created.Type = backend.TypeTask
	}

	if err := insertTask(ctx, b.db, uid, &created); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	b.hub.notify(uid, kindTasks)
	return &created, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, uid string, t *backend.Task) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`, uid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, description = excluded.description,
			date = excluded.date, time = excluded.time, category = excluded.category,
			done = excluded.done, type = excluded.type, alarm = excluded.alarm,
			goal_id = excluded.goal_id`,
		t.ID, t.Title, t.Description, t.Date, t.Time, t.Category,
		boolToInt(t.Done), string(t.Type), string(t.Alarm), t.GoalID,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), uid,
	)
	return err
}

// UpdateTask merges patch into the stored task.
func (b *Backend) UpdateTask(ctx context.Context, uid, taskID string, patch backend.TaskPatch) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Date != nil {
		add("date", *patch.Date)
	}
	if patch.Time != nil {
		add("time", *patch.Time)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Done != nil {
		add("done", boolToInt(*patch.Done))
	}
	if patch.Type != nil {
		add("type", string(*patch.Type))
	}
	if patch.Alarm != nil {
		add("alarm", string(*patch.Alarm))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, uid, taskID)
	res, err := b.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE uid = ? AND id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	b.hub.notify(uid, kindTasks)
	return nil
}

// DeleteTask removes a task.
func (b *Backend) DeleteTask(ctx context.Context, uid, taskID string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM tasks WHERE uid = ? AND id = ?", uid, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	b.hub.notify(uid, kindTasks)
	return nil
}

// QueryTasks returns the account's tasks matching q.
func (b *Backend) QueryTasks(ctx context.Context, uid string, q backend.TaskQuery) ([]backend.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE uid = ?"
	args := []any{uid}
	if q.GoalID != "" {
		query += " AND goal_id = ?"
		args = append(args, q.GoalID)
	}
	if q.DateAfter != "" {
		query += " AND date != '' AND date > ?"
		args = append(args, q.DateAfter)
	}
	query += " ORDER BY date, time, created"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tasks := []backend.Task{}
	for rows.Next() {
		var t backend.Task
		var done int
		var typ, alarm, created string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Date, &t.Time, &t.Category,
			&done, &typ, &alarm, &t.GoalID, &created); err != nil {
			return nil, err
		}
		t.Done = done != 0
		t.Type = backend.TaskType(typ)
		t.Alarm = backend.AlarmOverride(alarm)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- Goals ---

// CreateGoal inserts a goal, assigning its ID and creation time.
func (b *Backend) CreateGoal(ctx context.Context, uid string, goal *backend.Goal) (*backend.Goal, error) {
	created := *goal
	created.ID = backend.GenerateID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = b.now().UTC()
	}

	days, err := json.Marshal(nonNilInts(created.Days))
	if err != nil {
		return nil, err
	}
	hours, err := json.Marshal(nonNilStrings(created.Hours))
	if err != nil {
		return nil, err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO goals (id, uid, title, progress, days, hours, frequency, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, uid, created.Title, created.Progress, string(days), string(hours),
		created.Frequency, created.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create goal: %w", err)
	}

	b.hub.notify(uid, kindGoals)
	return &created, nil
}

// UpdateGoalProgress sets the derived progress of a goal.
func (b *Backend) UpdateGoalProgress(ctx context.Context, uid, goalID string, progress int) error {
	res, err := b.db.ExecContext(ctx, "UPDATE goals SET progress = ? WHERE uid = ? AND id = ?", progress, uid, goalID)
	if err != nil {
		return fmt.Errorf("failed to update goal progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	b.hub.notify(uid, kindGoals)
	return nil
}

func (b *Backend) listGoals(ctx context.Context, uid string) ([]backend.Goal, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT id, title, progress, days, hours, frequency, created FROM goals WHERE uid = ? ORDER BY created", uid)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	goals := []backend.Goal{}
	for rows.Next() {
		var g backend.Goal
		var days, hours, created string
		if err := rows.Scan(&g.ID, &g.Title, &g.Progress, &days, &hours, &g.Frequency, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(days), &g.Days)
		_ = json.Unmarshal([]byte(hours), &g.Hours)
		g.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// --- Batches ---

// Commit applies the batch in a single transaction.
func (b *Backend) Commit(ctx context.Context, uid string, batch backend.Batch) error {
	if batch.IsEmpty() {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := b.now().UTC()
	for i := range batch.PutTasks {
		t := batch.PutTasks[i]
		if t.ID == "" {
			t.ID = backend.GenerateID()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.Type == "" {
			t.Type = backend.TypeTask
		}
		if err := insertTask(ctx, tx, uid, &t); err != nil {
			return fmt.Errorf("batch put task: %w", err)
		}
	}
	for _, id := range batch.DeleteTasks {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE uid = ? AND id = ?", uid, id); err != nil {
			return fmt.Errorf("batch delete task: %w", err)
		}
	}
	for _, id := range batch.DeleteGoals {
		if _, err := tx.ExecContext(ctx, "DELETE FROM goals WHERE uid = ? AND id = ?", uid, id); err != nil {
			return fmt.Errorf("batch delete goal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if len(batch.PutTasks) > 0 || len(batch.DeleteTasks) > 0 {
		b.hub.notify(uid, kindTasks)
	}
	if len(batch.DeleteGoals) > 0 {
		b.hub.notify(uid, kindGoals)
	}
	return nil
}

// --- Preferences ---

// MergePreferences writes every non-nil field of doc, leaving the others untouched.
func (b *Backend) MergePreferences(ctx context.Context, uid string, doc backend.PreferencesDoc) error {
	return b.mergePreferences(ctx, uid, doc, true)
}

// SeedPreferences writes only the fields of doc that are absent remotely,
// so a concurrent first write from another device is never clobbered.
func (b *Backend) SeedPreferences(ctx context.Context, uid string, doc backend.PreferencesDoc) error {
	return b.mergePreferences(ctx, uid, doc, false)
}

func (b *Backend) mergePreferences(ctx context.Context, uid string, doc backend.PreferencesDoc, overwrite bool) error {
	patch, err := docFields(doc)
	if err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	current := map[string]json.RawMessage{}
	var raw string
	err = tx.QueryRowContext(ctx, "SELECT doc FROM preferences WHERE uid = ?", uid).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("corrupt preferences document: %w", err)
		}
	}

	for k, v := range patch {
		if _, exists := current[k]; exists && !overwrite {
			continue
		}
		current[k] = v
	}

	merged, err := json.Marshal(current)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO preferences (uid, doc, modified) VALUES (?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET doc = excluded.doc, modified = excluded.modified`,
		uid, string(merged), b.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	b.hub.notify(uid, kindPreferences)
	return nil
}

// docFields splits a document into its present top-level fields.
func docFields(doc backend.PreferencesDoc) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// getPreferences returns the stored document, or nil if none exists.
func (b *Backend) getPreferences(ctx context.Context, uid string) (*backend.PreferencesDoc, error) {
	var raw string
	err := b.db.QueryRowContext(ctx, "SELECT doc FROM preferences WHERE uid = ?", uid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc backend.PreferencesDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("corrupt preferences document: %w", err)
	}
	return &doc, nil
}

// --- Subscriptions ---

// WatchTasks streams full task snapshots for the account.
func (b *Backend) WatchTasks(ctx context.Context, uid string, fn func([]backend.Task), onErr func(error)) (backend.Subscription, error) {
	return b.hub.subscribe(ctx, uid, kindTasks, func(ctx context.Context) error {
		tasks, err := b.QueryTasks(ctx, uid, backend.TaskQuery{})
		if err != nil {
			return err
		}
		fn(tasks)
		return nil
	}, onErr), nil
}

// WatchGoals streams full goal snapshots for the account.
func (b *Backend) WatchGoals(ctx context.Context, uid string, fn func([]backend.Goal), onErr func(error)) (backend.Subscription, error) {
	return b.hub.subscribe(ctx, uid, kindGoals, func(ctx context.Context) error {
		goals, err := b.listGoals(ctx, uid)
		if err != nil {
			return err
		}
		fn(goals)
		return nil
	}, onErr), nil
}

// WatchPreferences streams the preferences document; nil means it does not exist.
func (b *Backend) WatchPreferences(ctx context.Context, uid string, fn func(*backend.PreferencesDoc), onErr func(error)) (backend.Subscription, error) {
	return b.hub.subscribe(ctx, uid, kindPreferences, func(ctx context.Context) error {
		doc, err := b.getPreferences(ctx, uid)
		if err != nil {
			return err
		}
		fn(doc)
		return nil
	}, onErr), nil
}

// ErrNotFound is returned when an update targets a missing document.
var ErrNotFound = errors.New("document not found")

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
