package syncengine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tasknest/backend"
	"tasknest/backend/sqlite"
	"tasknest/internal/cache"
	"tasknest/internal/utils"
)

// fakeStore is a RemoteStore whose change streams are driven by the test.
type fakeStore struct {
	mu           sync.Mutex
	merges       []backend.PreferencesDoc
	seeds        []backend.PreferencesDoc
	prefsFn      func(*backend.PreferencesDoc)
	tasksFn      func([]backend.Task)
	goalsFn      func([]backend.Goal)
	unsubscribed int
	watchTaskErr error
}

type fakeSub struct{ s *fakeStore }

func (f fakeSub) Unsubscribe() {
	f.s.mu.Lock()
	f.s.unsubscribed++
	f.s.mu.Unlock()
}

func (s *fakeStore) CreateTask(ctx context.Context, uid string, task *backend.Task) (*backend.Task, error) {
	return task, nil
}
func (s *fakeStore) UpdateTask(ctx context.Context, uid, taskID string, patch backend.TaskPatch) error {
	return nil
}
func (s *fakeStore) DeleteTask(ctx context.Context, uid, taskID string) error { return nil }
func (s *fakeStore) QueryTasks(ctx context.Context, uid string, q backend.TaskQuery) ([]backend.Task, error) {
	return nil, nil
}
func (s *fakeStore) CreateGoal(ctx context.Context, uid string, goal *backend.Goal) (*backend.Goal, error) {
	return goal, nil
}
func (s *fakeStore) UpdateGoalProgress(ctx context.Context, uid, goalID string, progress int) error {
	return nil
}
func (s *fakeStore) Commit(ctx context.Context, uid string, batch backend.Batch) error { return nil }
func (s *fakeStore) MergePreferences(ctx context.Context, uid string, doc backend.PreferencesDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges = append(s.merges, doc)
	return nil
}
func (s *fakeStore) SeedPreferences(ctx context.Context, uid string, doc backend.PreferencesDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeds = append(s.seeds, doc)
	return nil
}
func (s *fakeStore) WatchTasks(ctx context.Context, uid string, fn func([]backend.Task), onErr func(error)) (backend.Subscription, error) {
	if s.watchTaskErr != nil {
		return nil, s.watchTaskErr
	}
	s.tasksFn = fn
	return fakeSub{s}, nil
}
func (s *fakeStore) WatchGoals(ctx context.Context, uid string, fn func([]backend.Goal), onErr func(error)) (backend.Subscription, error) {
	s.goalsFn = fn
	return fakeSub{s}, nil
}
func (s *fakeStore) WatchPreferences(ctx context.Context, uid string, fn func(*backend.PreferencesDoc), onErr func(error)) (backend.Subscription, error) {
	s.prefsFn = fn
	return fakeSub{s}, nil
}
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) mergeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.merges)
}

func mustOpenCache(t *testing.T) *cache.SQLite {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var testAccount = backend.Account{UID: "user-1", DisplayName: "Ana", PhotoURL: "https://example.com/ana.png"}

func attachFake(t *testing.T) (*Engine, *fakeStore, *cache.SQLite) {
	t.Helper()
	store := &fakeStore{}
	c := mustOpenCache(t)
	e := New(store, c)
	if err := e.Attach(context.Background(), testAccount); err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	return e, store, c
}

func ptr[T any](v T) *T { return &v }

// TestWarmStartFromCache verifies preferences are loaded from the cache
// before any remote snapshot.
func TestWarmStartFromCache(t *testing.T) {
	c := mustOpenCache(t)
	prefs := backend.DefaultPreferences()
	prefs.DarkMode = true
	prefs.RemindersEnabled = false
	if err := cache.SavePreferences(c, prefs); err != nil {
		t.Fatalf("SavePreferences error: %v", err)
	}

	e := New(&fakeStore{}, c)
	got := e.Snapshot().Preferences
	if !got.DarkMode || got.RemindersEnabled {
		t.Errorf("warm start preferences = %+v, want cached values", got)
	}
}

// TestWriteBackGatedUntilObserved verifies no preference write reaches the
// remote store before the first remote snapshot is processed.
func TestWriteBackGatedUntilObserved(t *testing.T) {
	e, store, c := attachFake(t)
	ctx := context.Background()
	if err := e.SetPremium(ctx, true); err != nil {
		t.Fatalf("SetPremium error: %v", err)
	}

	what, err := e.UpdatePreferences(ctx, backend.PreferencesDoc{DarkMode: ptr(true)})
	if err != nil {
		t.Fatalf("UpdatePreferences error: %v", err)
	}
	if !what.Has(ChangedAppearance) {
		t.Errorf("change = %s, want appearance", what)
	}
	if store.mergeCount() != 0 {
		t.Fatalf("remote write issued before preferences were observed")
	}
	if v, _, _ := c.Get(cache.KeyDarkMode); v != "true" {
		t.Errorf("cache darkmode = %q, want true", v)
	}

	store.prefsFn(&backend.PreferencesDoc{RemindersEnabled: ptr(true)})
	if !e.Observed() {
		t.Fatal("engine should be observed after the first snapshot")
	}

	if _, err := e.UpdatePreferences(ctx, backend.PreferencesDoc{AccentColor: ptr("#112233")}); err != nil {
		t.Fatalf("UpdatePreferences error: %v", err)
	}
	if store.mergeCount() != 1 {
		t.Fatalf("merge writes = %d, want 1", store.mergeCount())
	}
	doc := store.merges[0]
	if doc.AccentColor == nil || *doc.AccentColor != "#112233" {
		t.Errorf("merge doc accent = %v", doc.AccentColor)
	}
	if doc.DarkMode != nil || doc.Profile != nil || doc.RemindersEnabled != nil {
		t.Errorf("merge doc should only carry the patched field: %+v", doc)
	}
}

// TestRemoteSnapshotNeverWritesBack verifies applying remote state does not
// echo back to the store.
func TestRemoteSnapshotNeverWritesBack(t *testing.T) {
	e, store, _ := attachFake(t)

	for i := 0; i < 3; i++ {
		store.prefsFn(&backend.PreferencesDoc{
			Profile:    &backend.Profile{Name: "Remote", Photo: "p"},
			DarkMode:   ptr(i%2 == 0),
			AlarmSound: &backend.AlarmSound{URI: "/s.ogg"},
		})
	}
	if store.mergeCount() != 0 {
		t.Errorf("remote snapshots caused %d write-backs", store.mergeCount())
	}
	if got := e.Snapshot().Preferences.Profile.Name; got != "Remote" {
		t.Errorf("profile name = %q, want Remote", got)
	}
}

// TestMissingDocumentSeedsDefaults verifies first-sync seeding from the
// account identity.
func TestMissingDocumentSeedsDefaults(t *testing.T) {
	e, store, _ := attachFake(t)

	store.prefsFn(nil)

	if len(store.seeds) != 1 {
		t.Fatalf("seeds = %d, want 1", len(store.seeds))
	}
	seed := store.seeds[0]
	if seed.Profile == nil || seed.Profile.Name != "Ana" || seed.Profile.Photo != testAccount.PhotoURL {
		t.Errorf("seed profile = %+v, want account identity", seed.Profile)
	}
	if seed.AccentColor == nil || *seed.AccentColor != backend.DefaultAccentColor {
		t.Errorf("seed accent = %v", seed.AccentColor)
	}
	if store.mergeCount() != 0 {
		t.Error("seeding must not use a blind merge write")
	}
	if !e.Observed() {
		t.Error("engine should be observed after processing a missing document")
	}
}

// TestSeedWithoutIdentityUsesDefaults verifies hard-coded defaults.
func TestSeedWithoutIdentityUsesDefaults(t *testing.T) {
	store := &fakeStore{}
	e := New(store, mustOpenCache(t))
	if err := e.Attach(context.Background(), backend.Account{UID: "u"}); err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	store.prefsFn(nil)

	if got := store.seeds[0].Profile.Name; got != backend.DefaultProfileName {
		t.Errorf("seed name = %q, want %q", got, backend.DefaultProfileName)
	}
}

// TestEqualityShortCircuit verifies identical object-valued preferences do
// not produce changes.
func TestEqualityShortCircuit(t *testing.T) {
	e, store, _ := attachFake(t)

	var mu sync.Mutex
	var changes []ChangeSet
	e.OnChange(func(c Change) {
		mu.Lock()
		changes = append(changes, c.What)
		mu.Unlock()
	})

	doc := &backend.PreferencesDoc{
		Profile:    &backend.Profile{Name: "X", Photo: "y"},
		AlarmSound: &backend.AlarmSound{URI: "/a.ogg", Name: "a", ChannelID: "alarm_channel_1"},
	}
	store.prefsFn(doc)
	store.prefsFn(doc)

	replay := *doc.Profile
	if _, err := e.UpdatePreferences(context.Background(), backend.PreferencesDoc{Profile: &replay}); err != nil {
		t.Fatalf("UpdatePreferences error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("changes = %v, want exactly one", changes)
	}
	if !changes[0].Has(ChangedProfile) || !changes[0].Has(ChangedAlarmSound) {
		t.Errorf("change = %s, want profile and alarm-sound", changes[0])
	}
	if store.mergeCount() != 0 {
		t.Error("identical profile should not be written back")
	}
}

// TestStaleDeliveryIgnored verifies snapshots from a detached subscription
// are dropped.
func TestStaleDeliveryIgnored(t *testing.T) {
	e, store, _ := attachFake(t)
	stale := store.tasksFn

	if err := e.Detach(); err != nil {
		t.Fatalf("Detach error: %v", err)
	}
	stale([]backend.Task{{ID: "1", Title: "late"}})

	if n := len(e.Snapshot().Tasks); n != 0 {
		t.Errorf("tasks after stale delivery = %d, want 0", n)
	}
}

// TestDetachResetsState verifies sign-out clears state and the five cache
// keys while keeping the premium flag.
func TestDetachResetsState(t *testing.T) {
	e, store, c := attachFake(t)

	store.prefsFn(&backend.PreferencesDoc{
		Profile:          &backend.Profile{Name: "Ana", Photo: "p"},
		DarkMode:         ptr(true),
		AccentColor:      ptr("#000000"),
		RemindersEnabled: ptr(false),
		AlarmSound:       &backend.AlarmSound{URI: "/s.ogg"},
		Premium:          ptr(true),
	})
	store.tasksFn([]backend.Task{{ID: "1", Title: "a", Time: "09:00"}})
	store.goalsFn([]backend.Goal{{ID: "g", Title: "run"}})

	var last Change
	e.OnChange(func(ch Change) { last = ch })

	if err := e.Detach(); err != nil {
		t.Fatalf("Detach error: %v", err)
	}

	snap := e.Snapshot()
	if snap.Attached || snap.Observed {
		t.Error("engine should be detached and unobserved")
	}
	if len(snap.Tasks) != 0 || len(snap.Goals) != 0 {
		t.Errorf("tasks/goals not cleared: %d/%d", len(snap.Tasks), len(snap.Goals))
	}
	want := backend.DefaultPreferences()
	want.Premium = true
	if snap.Preferences != want {
		t.Errorf("preferences = %+v, want %+v", snap.Preferences, want)
	}

	for _, key := range cache.AccountKeys {
		if _, ok, _ := c.Get(key); ok {
			t.Errorf("cache key %s should be purged", key)
		}
	}
	if v, ok, _ := c.Get(cache.KeyPremium); !ok || v != "true" {
		t.Error("premium cache flag should survive detach")
	}

	if store.unsubscribed != 3 {
		t.Errorf("unsubscribed = %d, want 3", store.unsubscribed)
	}
	if !last.What.Has(ScheduleInputs) {
		t.Errorf("detach change = %s, want schedule inputs", last.What)
	}
}

// TestSyncedAfterEveryStream verifies Synced waits for the first delivery
// of each collection, even an empty one.
func TestSyncedAfterEveryStream(t *testing.T) {
	e, store, _ := attachFake(t)
	if e.Synced() {
		t.Fatal("nothing delivered yet")
	}
	store.prefsFn(&backend.PreferencesDoc{RemindersEnabled: ptr(true)})
	store.tasksFn(nil)
	if e.Synced() {
		t.Fatal("goals not delivered yet")
	}
	store.goalsFn(nil)
	if !e.Synced() {
		t.Error("expected synced after every stream delivered")
	}

	e.Close()
	if err := e.Attach(context.Background(), testAccount); err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	if e.Synced() {
		t.Error("a new attach starts unsynced")
	}
}

// TestCloseKeepsCache verifies stopping the process drops the streams but
// leaves the cached preferences for the next start.
func TestCloseKeepsCache(t *testing.T) {
	e, store, c := attachFake(t)
	store.prefsFn(&backend.PreferencesDoc{RemindersEnabled: ptr(false)})
	store.tasksFn([]backend.Task{{ID: "1", Title: "a", Time: "09:00"}})

	e.Close()

	snap := e.Snapshot()
	if snap.Attached {
		t.Error("engine should not be attached after Close")
	}
	if len(snap.Tasks) != 1 {
		t.Errorf("tasks = %d, want state kept", len(snap.Tasks))
	}
	if store.unsubscribed != 3 {
		t.Errorf("unsubscribed = %d, want 3", store.unsubscribed)
	}
	if v, ok, _ := c.Get(cache.KeyReminders); !ok || v != "false" {
		t.Errorf("reminders cache = %q %v, want kept", v, ok)
	}

	// Late deliveries from the closed streams are ignored.
	store.tasksFn(nil)
	if len(e.Snapshot().Tasks) != 1 {
		t.Error("stale delivery after Close changed the state")
	}
}

// TestAttachSubscribeFailure verifies partial subscriptions are undone.
func TestAttachSubscribeFailure(t *testing.T) {
	store := &fakeStore{watchTaskErr: errors.New("database is locked")}
	e := New(store, mustOpenCache(t))

	err := e.Attach(context.Background(), testAccount)
	if err == nil {
		t.Fatal("expected Attach to fail")
	}
	if store.unsubscribed != 1 {
		t.Errorf("unsubscribed = %d, want 1", store.unsubscribed)
	}
	if e.Snapshot().Attached {
		t.Error("engine should not be attached after a failed Attach")
	}
}

// TestPremiumGating verifies premium-only operations fail for free accounts.
func TestPremiumGating(t *testing.T) {
	e, _, _ := attachFake(t)
	ctx := context.Background()

	_, _, err := e.AddGoal(ctx, backend.Goal{Title: "run", Days: []int{1}, Hours: []string{"07:00"}})
	if !errors.Is(err, utils.ErrPremium) {
		t.Errorf("AddGoal error = %v, want premium required", err)
	}
	_, err = e.DeleteFutureTasks(ctx, "2026-03-10", nil)
	if !errors.Is(err, utils.ErrPremium) {
		t.Errorf("DeleteFutureTasks error = %v, want premium required", err)
	}
}

// TestPremiumOnlyCustomization verifies alarm overrides and appearance
// changes need premium, while the default alarm and other preferences do not.
func TestPremiumOnlyCustomization(t *testing.T) {
	e, store, _ := attachFake(t)
	ctx := context.Background()

	if _, err := e.AddTask(ctx, backend.Task{Title: "loud", Alarm: backend.AlarmOn}); !errors.Is(err, utils.ErrPremium) {
		t.Errorf("AddTask with override error = %v, want premium required", err)
	}
	if _, err := e.AddTask(ctx, backend.Task{Title: "plain", Alarm: backend.AlarmDefault}); err != nil {
		t.Errorf("AddTask with default alarm error = %v", err)
	}
	off := backend.AlarmOff
	if err := e.EditTask(ctx, "t-1", backend.TaskPatch{Alarm: &off}); !errors.Is(err, utils.ErrPremium) {
		t.Errorf("EditTask with override error = %v, want premium required", err)
	}

	for name, patch := range map[string]backend.PreferencesDoc{
		"dark mode": {DarkMode: ptr(true)},
		"accent":    {AccentColor: ptr("#112233")},
	} {
		what, err := e.UpdatePreferences(ctx, patch)
		if !errors.Is(err, utils.ErrPremium) || what != 0 {
			t.Errorf("%s: UpdatePreferences = %s, %v; want premium required", name, what, err)
		}
	}
	if p := e.Snapshot().Preferences; p.DarkMode || p.AccentColor != backend.DefaultAccentColor {
		t.Errorf("gated changes leaked into state: %+v", p)
	}
	if _, err := e.UpdatePreferences(ctx, backend.PreferencesDoc{RemindersEnabled: ptr(false)}); err != nil {
		t.Errorf("reminders toggle error = %v", err)
	}

	// Remote snapshots are never gated.
	store.prefsFn(&backend.PreferencesDoc{DarkMode: ptr(true)})
	if !e.Snapshot().Preferences.DarkMode {
		t.Error("remote dark mode should apply to free accounts")
	}

	if err := e.SetPremium(ctx, true); err != nil {
		t.Fatalf("SetPremium error: %v", err)
	}
	if _, err := e.UpdatePreferences(ctx, backend.PreferencesDoc{AccentColor: ptr("#112233")}); err != nil {
		t.Errorf("premium accent error = %v", err)
	}
	if _, err := e.AddTask(ctx, backend.Task{Title: "loud", Alarm: backend.AlarmOn}); err != nil {
		t.Errorf("premium AddTask with override error = %v", err)
	}
}

// TestWritesRequireAccount verifies the write path refuses to run detached.
func TestWritesRequireAccount(t *testing.T) {
	e := New(&fakeStore{}, nil)
	if _, err := e.AddTask(context.Background(), backend.Task{Title: "x"}); !errors.Is(err, utils.ErrNotAttached) {
		t.Errorf("AddTask error = %v, want not attached", err)
	}
}

// --- End-to-end against the SQLite store ---

func newLiveEngine(t *testing.T, now time.Time, premium bool) (*Engine, *sqlite.Backend) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("sqlite.New error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	c := mustOpenCache(t)
	if premium {
		_ = c.Set(cache.KeyPremium, "true")
	}

	e := New(store, c, WithClock(func() time.Time { return now }))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := e.Attach(ctx, testAccount); err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	waitFor(t, func(s Snapshot) bool { return s.Observed && s.Preferences.Profile.Name == "Ana" }, e)
	return e, store
}

func waitFor(t *testing.T, cond func(Snapshot) bool, e *Engine) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		s := e.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot: %+v", s)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestToggleKeepsGoalProgress verifies the goal progress invariant after
// toggling linked tasks.
func TestToggleKeepsGoalProgress(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	e, _ := newLiveEngine(t, now, true)
	ctx := context.Background()

	goal, n, err := e.AddGoal(ctx, backend.Goal{
		Title: "Stretch",
		Days:  []int{0, 1, 2, 3, 4, 5, 6},
		Hours: []string{"7:30"},
	})
	if err != nil {
		t.Fatalf("AddGoal error: %v", err)
	}
	if n != GoalWindowDays {
		t.Fatalf("generated %d tasks, want %d", n, GoalWindowDays)
	}

	snap := waitFor(t, func(s Snapshot) bool { return len(s.Tasks) == GoalWindowDays }, e)
	for i := 0; i < 3; i++ {
		if _, err := e.ToggleTask(ctx, snap.Tasks[i].ID); err != nil {
			t.Fatalf("ToggleTask error: %v", err)
		}
	}

	// 3 of 30 completed
	waitFor(t, func(s Snapshot) bool {
		return len(s.Goals) == 1 && s.Goals[0].ID == goal.ID && s.Goals[0].Progress == 10
	}, e)

	waitFor(t, func(s Snapshot) bool { return countDone(s.Tasks) == 3 }, e)
	if _, err := e.ToggleTask(ctx, snap.Tasks[0].ID); err != nil {
		t.Fatalf("ToggleTask error: %v", err)
	}
	waitFor(t, func(s Snapshot) bool { return s.Goals[0].Progress == 7 }, e)
}

// TestEditAndDeleteKeepGoalProgress verifies progress follows completion
// changes made through EditTask and the removal of linked tasks.
func TestEditAndDeleteKeepGoalProgress(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	e, _ := newLiveEngine(t, now, true)
	ctx := context.Background()

	if _, _, err := e.AddGoal(ctx, backend.Goal{
		Title: "Stretch",
		Days:  []int{0, 1, 2, 3, 4, 5, 6},
		Hours: []string{"7:30"},
	}); err != nil {
		t.Fatalf("AddGoal error: %v", err)
	}
	snap := waitFor(t, func(s Snapshot) bool { return len(s.Tasks) == GoalWindowDays && len(s.Goals) == 1 }, e)

	done := true
	for i := 0; i < 3; i++ {
		if err := e.EditTask(ctx, snap.Tasks[i].ID, backend.TaskPatch{Done: &done}); err != nil {
			t.Fatalf("EditTask error: %v", err)
		}
	}
	// 3 of 30 completed
	waitFor(t, func(s Snapshot) bool { return countDone(s.Tasks) == 3 && s.Goals[0].Progress == 10 }, e)

	// 3 of 29 after removing an open task: round(300/29) = 10
	if err := e.DeleteTask(ctx, snap.Tasks[10].ID); err != nil {
		t.Fatalf("DeleteTask error: %v", err)
	}
	waitFor(t, func(s Snapshot) bool { return len(s.Tasks) == 29 }, e)

	// 2 of 28 after removing a completed task: round(200/28) = 7
	if err := e.DeleteTask(ctx, snap.Tasks[0].ID); err != nil {
		t.Fatalf("DeleteTask error: %v", err)
	}
	waitFor(t, func(s Snapshot) bool { return len(s.Tasks) == 28 && s.Goals[0].Progress == 7 }, e)
}

func countDone(tasks []backend.Task) int {
	n := 0
	for _, task := range tasks {
		if task.Done {
			n++
		}
	}
	return n
}

// TestDeleteGoalCascades verifies goal deletion removes linked tasks.
func TestDeleteGoalCascades(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	e, _ := newLiveEngine(t, now, true)
	ctx := context.Background()

	if _, err := e.AddTask(ctx, backend.Task{Title: "standalone", Time: "10:00"}); err != nil {
		t.Fatalf("AddTask error: %v", err)
	}
	goal, _, err := e.AddGoal(ctx, backend.Goal{Title: "Read", Days: []int{2}, Hours: []string{"21:00"}})
	if err != nil {
		t.Fatalf("AddGoal error: %v", err)
	}
	waitFor(t, func(s Snapshot) bool { return len(s.Tasks) == 6 && len(s.Goals) == 1 }, e)

	if err := e.DeleteGoal(ctx, goal.ID); err != nil {
		t.Fatalf("DeleteGoal error: %v", err)
	}
	snap := waitFor(t, func(s Snapshot) bool { return len(s.Goals) == 0 && len(s.Tasks) == 1 }, e)
	if snap.Tasks[0].Title != "standalone" {
		t.Errorf("remaining task = %q, want standalone", snap.Tasks[0].Title)
	}
}

// TestDeleteFutureTasks verifies only tasks dated after today are removed
// and that declining the confirmation keeps them.
func TestDeleteFutureTasks(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	e, _ := newLiveEngine(t, now, true)
	ctx := context.Background()

	for _, task := range []backend.Task{
		{Title: "today", Date: "2026-03-10"},
		{Title: "tomorrow", Date: "2026-03-11"},
		{Title: "later", Date: "2026-04-01"},
		{Title: "undated"},
	} {
		if _, err := e.AddTask(ctx, task); err != nil {
			t.Fatalf("AddTask error: %v", err)
		}
	}
	waitFor(t, func(s Snapshot) bool { return len(s.Tasks) == 4 }, e)

	n, err := e.DeleteFutureTasks(ctx, "2026-03-10", func([]backend.Task) bool { return false })
	if err != nil || n != 0 {
		t.Fatalf("declined deletion = %d, %v; want 0, nil", n, err)
	}

	var shown int
	n, err = e.DeleteFutureTasks(ctx, "2026-03-10", func(ts []backend.Task) bool {
		shown = len(ts)
		return true
	})
	if err != nil {
		t.Fatalf("DeleteFutureTasks error: %v", err)
	}
	if n != 2 || shown != 2 {
		t.Errorf("deleted %d (shown %d), want 2", n, shown)
	}

	snap := waitFor(t, func(s Snapshot) bool { return len(s.Tasks) == 2 }, e)
	for _, task := range snap.Tasks {
		if task.Title == "tomorrow" || task.Title == "later" {
			t.Errorf("future task %q survived", task.Title)
		}
	}
}

// TestSelectAlarmSound verifies the per-selection channel identifier.
func TestSelectAlarmSound(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	e, _ := newLiveEngine(t, now, false)

	sound, err := e.SelectAlarmSound(context.Background(), "/home/ana/bell.ogg", "bell")
	if err != nil {
		t.Fatalf("SelectAlarmSound error: %v", err)
	}
	if sound.ChannelID != "alarm_channel_1773129600000" {
		t.Errorf("channel = %q", sound.ChannelID)
	}
	if got := e.Snapshot().Preferences.AlarmSound; got != sound {
		t.Errorf("alarm sound = %+v, want %+v", got, sound)
	}

	if _, err := e.SelectAlarmSound(context.Background(), "", ""); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if !e.Snapshot().Preferences.AlarmSound.IsZero() {
		t.Error("alarm sound should be cleared")
	}
}
