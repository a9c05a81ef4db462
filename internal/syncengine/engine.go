// Package syncengine owns the task list, goals and preferences of the
// attached account. It keeps them consistent with the remote store and the
// local cache, and publishes changes to the rest of the process.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"tasknest/backend"
	"tasknest/internal/cache"
	"tasknest/internal/utils"
)

// ChangeSet is a bitmask of the parts of the state that changed.
type ChangeSet uint16

const (
	ChangedTasks ChangeSet = 1 << iota
	ChangedGoals
	ChangedProfile
	ChangedReminders
	ChangedAlarmSound
	ChangedAppearance
	ChangedPremium

	ChangedAll = ChangedTasks | ChangedGoals | ChangedProfile | ChangedReminders |
		ChangedAlarmSound | ChangedAppearance | ChangedPremium

	// ScheduleInputs are the changes that invalidate the reminder schedule.
	ScheduleInputs = ChangedTasks | ChangedReminders | ChangedProfile | ChangedAlarmSound
)

// Has reports whether any of the flags in f are set.
func (c ChangeSet) Has(f ChangeSet) bool {
	return c&f != 0
}

func (c ChangeSet) String() string {
	if c == 0 {
		return "none"
	}
	names := []string{"tasks", "goals", "profile", "reminders", "alarm-sound", "appearance", "premium"}
	var out []string
	for i, name := range names {
		if c&(1<<i) != 0 {
			out = append(out, name)
		}
	}
	return fmt.Sprint(out)
}

// Snapshot is a copy of the engine state. Callers own it.
type Snapshot struct {
	Account     backend.Account
	Attached    bool
	Observed    bool
	Tasks       []backend.Task
	Goals       []backend.Goal
	Preferences backend.Preferences
}

// Change is delivered to listeners after every state transition.
type Change struct {
	What  ChangeSet
	State Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine is the single owner of account state.
type Engine struct {
	store backend.RemoteStore
	cache cache.Store
	now   func() time.Time

	// emitMu serializes state transitions together with their listener
	// calls so listeners observe changes in order.
	emitMu sync.Mutex

	mu         sync.Mutex
	account    backend.Account
	attached   bool
	attachCtx  context.Context
	generation uint64
	subs       []backend.Subscription
	observed   bool
	delivered  ChangeSet // collections delivered since attach
	tasks      []backend.Task
	goals      []backend.Goal
	prefs      backend.Preferences
	listeners  []func(Change)
}

// New creates an engine. In-memory preferences start from the local cache
// so the first render does not wait for the remote store.
func New(store backend.RemoteStore, c cache.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cache: c,
		now:   time.Now,
		prefs: backend.DefaultPreferences(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if c != nil {
		e.prefs = cache.LoadPreferences(c)
	}
	return e
}

// OnChange registers a listener. Listeners run one at a time on the
// goroutine that caused the change and must not call UpdatePreferences or
// Detach synchronously.
func (e *Engine) OnChange(fn func(Change)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	goals := make([]backend.Goal, len(e.goals))
	for i, g := range e.goals {
		g.Days = slices.Clone(g.Days)
		g.Hours = slices.Clone(g.Hours)
		goals[i] = g
	}
	return Snapshot{
		Account:     e.account,
		Attached:    e.attached,
		Observed:    e.observed,
		Tasks:       slices.Clone(e.tasks),
		Goals:       goals,
		Preferences: e.prefs,
	}
}

// Observed reports whether the remote preferences have been observed at
// least once since the account was attached.
func (e *Engine) Observed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observed
}

// Synced reports whether preferences, tasks and goals have each been
// delivered at least once since the account was attached.
func (e *Engine) Synced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	// ChangedProfile marks the preferences stream; a seeded account is
	// synced once the seeded document comes back.
	const streams = ChangedTasks | ChangedGoals | ChangedProfile
	return e.observed && e.delivered&streams == streams
}

// transition applies mutate under the state lock and delivers the result
// to listeners. mutate returns what changed.
func (e *Engine) transition(mutate func() ChangeSet) ChangeSet {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	what := mutate()
	if what == 0 {
		e.mu.Unlock()
		return 0
	}
	snap := e.snapshotLocked()
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	utils.Debugf("sync: state changed: %s", what)
	for _, fn := range listeners {
		fn(Change{What: what, State: snap})
	}
	return what
}

// Attach subscribes to the account's tasks, goals and preferences. Calling
// Attach for the already attached account is a no-op; a different account
// is detached first.
func (e *Engine) Attach(ctx context.Context, account backend.Account) error {
	if account.UID == "" {
		return utils.ErrAccountNotAttached()
	}

	e.mu.Lock()
	if e.attached && e.account.UID == account.UID {
		e.mu.Unlock()
		return nil
	}
	switching := e.attached
	e.mu.Unlock()

	if switching {
		if err := e.Detach(); err != nil {
			utils.Warnf("sync: failed to purge cache on account switch: %v", err)
		}
	}

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.account = account
	e.attached = true
	e.attachCtx = ctx
	e.observed = false
	e.delivered = 0
	e.mu.Unlock()

	onErr := func(name string) func(error) {
		return func(err error) {
			utils.Warnf("sync: %s stream error: %v", name, err)
		}
	}

	var subs []backend.Subscription
	fail := func(err error) error {
		for _, s := range subs {
			s.Unsubscribe()
		}
		e.mu.Lock()
		if e.generation == gen {
			e.attached = false
			e.account = backend.Account{}
			e.attachCtx = nil
		}
		e.mu.Unlock()
		return utils.ErrStoreOffline(err.Error())
	}

	sub, err := e.store.WatchPreferences(ctx, account.UID, func(doc *backend.PreferencesDoc) {
		e.applyPreferences(gen, doc)
	}, onErr("preferences"))
	if err != nil {
		return fail(err)
	}
	subs = append(subs, sub)

	sub, err = e.store.WatchTasks(ctx, account.UID, func(tasks []backend.Task) {
		e.applyTasks(gen, tasks)
	}, onErr("tasks"))
	if err != nil {
		return fail(err)
	}
	subs = append(subs, sub)

	sub, err = e.store.WatchGoals(ctx, account.UID, func(goals []backend.Goal) {
		e.applyGoals(gen, goals)
	}, onErr("goals"))
	if err != nil {
		return fail(err)
	}
	subs = append(subs, sub)

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		for _, s := range subs {
			s.Unsubscribe()
		}
		return nil
	}
	e.subs = subs
	e.mu.Unlock()

	utils.Infof("sync: attached account %s", account.UID)
	return nil
}

// Detach unsubscribes every stream, resets the state to defaults and
// purges the account's cache entries. The premium flag is kept.
func (e *Engine) Detach() error {
	var subs []backend.Subscription
	e.transition(func() ChangeSet {
		subs = e.subs
		e.subs = nil
		e.generation++
		e.account = backend.Account{}
		e.attached = false
		e.attachCtx = nil
		e.observed = false
		e.delivered = 0
		e.tasks = nil
		e.goals = nil

		premium := e.prefs.Premium
		e.prefs = backend.DefaultPreferences()
		e.prefs.Premium = premium
		return ChangedAll &^ ChangedPremium
	})

	for _, s := range subs {
		s.Unsubscribe()
	}

	if e.cache == nil {
		return nil
	}
	if err := cache.PurgeAccount(e.cache); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	utils.Infof("sync: account detached")
	return nil
}

// Close unsubscribes every stream when the process stops. Unlike Detach
// it keeps the state and the cache.
func (e *Engine) Close() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.generation++
	e.attached = false
	e.attachCtx = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (e *Engine) applyTasks(gen uint64, tasks []backend.Task) {
	e.transition(func() ChangeSet {
		if e.generation != gen {
			return 0
		}
		e.delivered |= ChangedTasks
		if slices.Equal(e.tasks, tasks) {
			return 0
		}
		e.tasks = tasks
		return ChangedTasks
	})
}

func (e *Engine) applyGoals(gen uint64, goals []backend.Goal) {
	e.transition(func() ChangeSet {
		if e.generation != gen {
			return 0
		}
		e.delivered |= ChangedGoals
		if goalsEqual(e.goals, goals) {
			return 0
		}
		e.goals = goals
		return ChangedGoals
	})
}

func goalsEqual(a, b []backend.Goal) bool {
	return slices.EqualFunc(a, b, func(x, y backend.Goal) bool {
		return x.ID == y.ID && x.Title == y.Title && x.Progress == y.Progress &&
			x.Frequency == y.Frequency && x.CreatedAt.Equal(y.CreatedAt) &&
			slices.Equal(x.Days, y.Days) && slices.Equal(x.Hours, y.Hours)
	})
}

func (e *Engine) applyPreferences(gen uint64, doc *backend.PreferencesDoc) {
	if doc == nil {
		e.seed(gen)
		return
	}

	var mirror *backend.Preferences
	e.transition(func() ChangeSet {
		if e.generation != gen {
			return 0
		}
		what := applyDoc(&e.prefs, *doc)
		e.observed = true
		e.delivered |= ChangedProfile
		if what != 0 {
			p := e.prefs
			mirror = &p
		}
		return what
	})

	if mirror != nil && e.cache != nil {
		if err := cache.SavePreferences(e.cache, *mirror); err != nil {
			utils.Warnf("sync: failed to mirror preferences to cache: %v", err)
		}
	}
}

// seed writes the default document for an account that has none yet. The
// write fills missing fields only, so a concurrent first write from another
// device wins.
func (e *Engine) seed(gen uint64) {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	account := e.account
	ctx := e.attachCtx
	premium := e.prefs.Premium
	e.observed = true
	e.mu.Unlock()

	defaults := backend.DefaultPreferences()
	if account.DisplayName != "" {
		defaults.Profile.Name = account.DisplayName
	}
	if account.PhotoURL != "" {
		defaults.Profile.Photo = account.PhotoURL
	}
	defaults.Premium = premium

	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.store.SeedPreferences(ctx, account.UID, defaults.Doc()); err != nil {
		utils.Warnf("sync: failed to seed preferences: %v", err)
		return
	}
	utils.Infof("sync: seeded preferences for %s", account.UID)
}

// applyDoc merges the non-nil fields of doc into p and reports what
// changed. Identical values are not changes.
func applyDoc(p *backend.Preferences, doc backend.PreferencesDoc) ChangeSet {
	var what ChangeSet
	if doc.Profile != nil && *doc.Profile != p.Profile {
		p.Profile = *doc.Profile
		what |= ChangedProfile
	}
	if doc.DarkMode != nil && *doc.DarkMode != p.DarkMode {
		p.DarkMode = *doc.DarkMode
		what |= ChangedAppearance
	}
	if doc.AccentColor != nil && *doc.AccentColor != p.AccentColor {
		p.AccentColor = *doc.AccentColor
		what |= ChangedAppearance
	}
	if doc.RemindersEnabled != nil && *doc.RemindersEnabled != p.RemindersEnabled {
		p.RemindersEnabled = *doc.RemindersEnabled
		what |= ChangedReminders
	}
	if doc.AlarmSound != nil && *doc.AlarmSound != p.AlarmSound {
		p.AlarmSound = *doc.AlarmSound
		what |= ChangedAlarmSound
	}
	if doc.Premium != nil && *doc.Premium != p.Premium {
		p.Premium = *doc.Premium
		what |= ChangedPremium
	}
	return what
}

// appearanceGated reports whether patch changes dark mode or the accent
// colour, which are premium features.
func appearanceGated(p backend.Preferences, patch backend.PreferencesDoc) bool {
	if patch.Premium != nil && *patch.Premium {
		return false
	}
	if p.Premium {
		return false
	}
	return (patch.DarkMode != nil && *patch.DarkMode != p.DarkMode) ||
		(patch.AccentColor != nil && *patch.AccentColor != p.AccentColor)
}

// UpdatePreferences applies patch locally, mirrors the result to the
// cache, and merge-writes the patch to the remote store once the remote
// preferences have been observed. It returns what changed. Appearance
// changes need premium.
func (e *Engine) UpdatePreferences(ctx context.Context, patch backend.PreferencesDoc) (ChangeSet, error) {
	var (
		prefs    backend.Preferences
		uid      string
		writable bool
		gated    bool
	)
	what := e.transition(func() ChangeSet {
		if appearanceGated(e.prefs, patch) {
			gated = true
			return 0
		}
		what := applyDoc(&e.prefs, patch)
		prefs = e.prefs
		uid = e.account.UID
		writable = e.attached && e.observed
		return what
	})
	if gated {
		return 0, utils.ErrPremiumRequired("appearance customization")
	}
	if what == 0 {
		return 0, nil
	}

	var errs []error
	if e.cache != nil {
		if err := cache.SavePreferences(e.cache, prefs); err != nil {
			errs = append(errs, fmt.Errorf("failed to mirror preferences to cache: %w", err))
		}
	}
	if writable {
		if err := e.store.MergePreferences(ctx, uid, patch); err != nil {
			errs = append(errs, fmt.Errorf("failed to save preferences: %w", err))
		}
	} else {
		utils.Debugf("sync: remote preferences not observed yet, write-back skipped")
	}
	return what, errors.Join(errs...)
}

// SetPremium records the device-wide premium flag.
func (e *Engine) SetPremium(ctx context.Context, premium bool) error {
	_, err := e.UpdatePreferences(ctx, backend.PreferencesDoc{Premium: &premium})
	return err
}

// SelectAlarmSound selects a custom alarm sound. An empty uri clears it.
func (e *Engine) SelectAlarmSound(ctx context.Context, uri, name string) (backend.AlarmSound, error) {
	var sound backend.AlarmSound
	if uri != "" {
		sound = backend.NewAlarmSound(uri, name, e.now())
	}
	_, err := e.UpdatePreferences(ctx, backend.PreferencesDoc{AlarmSound: &sound})
	return sound, err
}
