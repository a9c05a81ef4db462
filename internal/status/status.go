// Package status serves a read-only HTTP view of the running daemon.
package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tasknest/internal/reminder"
	"tasknest/internal/syncengine"
)

// StateSource exposes the engine state.
type StateSource interface {
	Snapshot() syncengine.Snapshot
}

// ScheduleSource exposes the armed reminders.
type ScheduleSource interface {
	BackendName() string
	Armed() []reminder.Entry
}

// Deps are the daemon components the handler reads from.
type Deps struct {
	Engine    StateSource
	Schedule  ScheduleSource
	Version   string
	StartedAt time.Time
	Now       func() time.Time
}

// State is the body of GET /state.
type State struct {
	Account          string    `json:"account,omitempty"`
	Attached         bool      `json:"attached"`
	Observed         bool      `json:"observed"`
	Tasks            int       `json:"tasks"`
	OpenTasks        int       `json:"open_tasks"`
	Goals            int       `json:"goals"`
	RemindersEnabled bool      `json:"reminders_enabled"`
	Premium          bool      `json:"premium"`
	AlarmSound       string    `json:"alarm_sound,omitempty"`
	Backend          string    `json:"backend"`
	Armed            int       `json:"armed"`
	Version          string    `json:"version"`
	StartedAt        time.Time `json:"started_at"`
}

// Health is the body of GET /healthz.
type Health struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// NewHandler builds the status router.
func NewHandler(deps Deps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Get("/healthz", handleHealth(deps))
	r.Get("/state", handleState(deps))
	r.Get("/reminders", handleReminders(deps))
	r.Get("/reminders/{taskID}", handleReminder(deps))
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := deps.Now().Sub(deps.StartedAt).Truncate(time.Second)
		writeJSON(w, http.StatusOK, Health{Status: "ok", Uptime: uptime.String()})
	}
}

func handleState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Engine.Snapshot()
		st := State{
			Account:          snap.Account.UID,
			Attached:         snap.Attached,
			Observed:         snap.Observed,
			Tasks:            len(snap.Tasks),
			Goals:            len(snap.Goals),
			RemindersEnabled: snap.Preferences.RemindersEnabled,
			Premium:          snap.Preferences.Premium,
			AlarmSound:       snap.Preferences.AlarmSound.Name,
			Backend:          deps.Schedule.BackendName(),
			Armed:            len(deps.Schedule.Armed()),
			Version:          deps.Version,
			StartedAt:        deps.StartedAt,
		}
		for _, t := range snap.Tasks {
			if !t.Done && !t.IsNote() {
				st.OpenTasks++
			}
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleReminders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"backend":   deps.Schedule.BackendName(),
			"reminders": deps.Schedule.Armed(),
		})
	}
}

func handleReminder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		for _, e := range deps.Schedule.Armed() {
			if e.TaskID == taskID {
				writeJSON(w, http.StatusOK, e)
				return
			}
		}
		httpError(w, http.StatusNotFound, "not_found", "no reminder armed for task %s", taskID)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
