package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLConsole/pkg/backup"
	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
	"github.com/supporttools/GoSQLConsole/pkg/config"
	"github.com/supporttools/GoSQLConsole/pkg/schedule"
)

type call struct {
	trigger backup.Trigger
	ids     []string
}

type fakeInvoker struct {
	mu    sync.Mutex
	calls []call
	fail  bool
}

func (f *fakeInvoker) Run(_ context.Context, trigger backup.Trigger, id string) backup.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{trigger: trigger, ids: []string{id}})
	return backup.Result{DatabaseID: id, Trigger: trigger, Success: !f.fail}
}

func (f *fakeInvoker) RunEach(_ context.Context, trigger backup.Trigger, ids []string) []backup.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{trigger: trigger, ids: ids})
	results := make([]backup.Result, len(ids))
	for i, id := range ids {
		results[i] = backup.Result{DatabaseID: id, Trigger: trigger, Success: id != "2"}
	}
	return results
}

func (f *fakeInvoker) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeTargets struct {
	cfg *backupconf.BackupConfig
}

func (f fakeTargets) LoadOrDefault() *backupconf.BackupConfig {
	return f.cfg
}

func newTestReconciler(t *testing.T, scope string) (*Reconciler, *schedule.Store, *fakeInvoker) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := schedule.NewStore(filepath.Join(t.TempDir(), "scheduler.json"), logger)
	inv := &fakeInvoker{}

	targets := backupconf.Default()
	targets.Databases = []backupconf.DatabaseTarget{{ID: "1"}, {ID: "2"}, {ID: "5"}}

	r := New(Options{
		Schedules:    store,
		Targets:      fakeTargets{cfg: targets},
		Invoker:      inv,
		PollInterval: 20 * time.Millisecond,
		Scope:        scope,
		Location:     time.UTC,
		Logger:       logger,
	})
	return r, store, inv
}

// bumpModTime moves the file's mtime forward so the next poll sees a change.
func bumpModTime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	mod := info.ModTime().Add(by)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

// TestReconcile_Weekly tests the single trigger installed for a weekly schedule
func TestReconcile_Weekly(t *testing.T) {
	r, store, _ := newTestReconciler(t, config.ScopeDefault)
	require.NoError(t, store.Save(schedule.Config{Enabled: true, Schedule: schedule.Weekly, Time: "02:30", DayOfWeek: 3, DayOfMonth: 1}))

	require.NoError(t, r.Reconcile())

	triggers := r.Triggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, "30 2 * * 3", triggers[0].Spec)
	assert.Equal(t, time.Wednesday, triggers[0].Next.Weekday())
	assert.Equal(t, 2, triggers[0].Next.Hour())
	assert.Equal(t, 30, triggers[0].Next.Minute())

	require.NoError(t, store.Save(schedule.Config{Enabled: false, Schedule: schedule.Weekly, Time: "02:30", DayOfWeek: 3, DayOfMonth: 1}))
	require.NoError(t, r.Reconcile())
	assert.Empty(t, r.Triggers())
}

// TestReconcile_ReplacesTrigger tests that reconciliation never leaves two triggers
func TestReconcile_ReplacesTrigger(t *testing.T) {
	r, store, _ := newTestReconciler(t, config.ScopeDefault)

	for _, cfg := range []schedule.Config{
		{Enabled: true, Schedule: schedule.Hourly, Time: "00:15", DayOfWeek: 1, DayOfMonth: 1},
		{Enabled: true, Schedule: schedule.Daily, Time: "03:00", DayOfWeek: 1, DayOfMonth: 1},
		{Enabled: true, Schedule: schedule.Monthly, Time: "01:00", DayOfWeek: 1, DayOfMonth: 31},
	} {
		require.NoError(t, store.Save(cfg))
		require.NoError(t, r.Reconcile())
		require.NoError(t, r.Reconcile())

		spec, err := cfg.CronSpec()
		require.NoError(t, err)
		triggers := r.Triggers()
		require.Len(t, triggers, 1)
		assert.Equal(t, spec, triggers[0].Spec)
		assert.Len(t, r.cron.Entries(), 1)
	}
}

// TestReconcile_UnknownSchedule tests that an unknown cadence installs nothing
func TestReconcile_UnknownSchedule(t *testing.T) {
	r, store, _ := newTestReconciler(t, config.ScopeDefault)
	require.NoError(t, store.Save(schedule.Config{Enabled: true, Schedule: schedule.Daily, Time: "01:00", DayOfWeek: 1, DayOfMonth: 1}))
	require.NoError(t, r.Reconcile())
	require.Len(t, r.Triggers(), 1)

	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"enabled": true, "schedule": "yearly", "time": "01:00"}`), 0o644))
	err := r.Reconcile()

	assert.ErrorIs(t, err, schedule.ErrUnknownSchedule)
	assert.Empty(t, r.Triggers())
	assert.Empty(t, r.cron.Entries())
}

// TestReconcile_MalformedTime tests the 00:00 fallback
func TestReconcile_MalformedTime(t *testing.T) {
	r, store, _ := newTestReconciler(t, config.ScopeDefault)
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"enabled": true, "schedule": "daily", "time": "half past two"}`), 0o644))

	require.NoError(t, r.Reconcile())

	triggers := r.Triggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, "0 0 * * *", triggers[0].Spec)
}

// TestPoll tests that reconciliation happens only when the file changes
func TestPoll(t *testing.T) {
	r, store, _ := newTestReconciler(t, config.ScopeDefault)

	r.poll() // no file yet
	assert.Empty(t, r.Triggers())

	require.NoError(t, store.Save(schedule.Config{Enabled: true, Schedule: schedule.Daily, Time: "01:00", DayOfWeek: 1, DayOfMonth: 1}))
	r.poll()
	require.Len(t, r.Triggers(), 1)

	// An unchanged timestamp is not a change, even if the content differs
	mod, err := store.ModTime()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"enabled": false}`), 0o644))
	require.NoError(t, os.Chtimes(store.Path(), mod, mod))
	r.poll()
	assert.Len(t, r.Triggers(), 1)

	bumpModTime(t, store.Path(), time.Second)
	r.poll()
	assert.Empty(t, r.Triggers())
}

// TestFire tests what a matured trigger invokes for each scope
func TestFire(t *testing.T) {
	tests := []struct {
		name    string
		scope   string
		wantIDs []string
	}{
		{name: "default scope runs the script once without id", scope: config.ScopeDefault, wantIDs: []string{""}},
		{name: "each scope fans out over databases", scope: config.ScopeEach, wantIDs: []string{"1", "2", "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, inv := newTestReconciler(t, tt.scope)

			r.fire()

			calls := inv.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, backup.TriggerScheduled, calls[0].trigger)
			assert.Equal(t, tt.wantIDs, calls[0].ids)
		})
	}
}

// TestFire_FailureKeepsTrigger tests that a failed backup leaves the schedule in place
func TestFire_FailureKeepsTrigger(t *testing.T) {
	r, store, inv := newTestReconciler(t, config.ScopeDefault)
	inv.fail = true
	require.NoError(t, store.Save(schedule.Config{Enabled: true, Schedule: schedule.Hourly, Time: "00:05", DayOfWeek: 1, DayOfMonth: 1}))
	require.NoError(t, r.Reconcile())

	r.fire()
	r.fire()

	assert.Len(t, inv.Calls(), 2)
	assert.Len(t, r.Triggers(), 1)
}

// TestStartShutdown tests the lifecycle and change detection of a running reconciler
func TestStartShutdown(t *testing.T) {
	r, store, _ := newTestReconciler(t, config.ScopeDefault)
	require.NoError(t, store.Save(schedule.Config{Enabled: true, Schedule: schedule.Daily, Time: "04:00", DayOfWeek: 1, DayOfMonth: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Equal(t, Stopped, r.State())
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, Running, r.State())
	assert.ErrorIs(t, r.Start(ctx), ErrAlreadyRunning)
	require.Len(t, r.Triggers(), 1)

	require.NoError(t, store.Save(schedule.Config{Enabled: true, Schedule: schedule.Weekly, Time: "05:00", DayOfWeek: 0, DayOfMonth: 1}))
	bumpModTime(t, store.Path(), 2*time.Second)

	assert.Eventually(t, func() bool {
		triggers := r.Triggers()
		return len(triggers) == 1 && triggers[0].Spec == "0 5 * * 0"
	}, 2*time.Second, 10*time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, r.Shutdown(shutdownCtx))
	assert.Equal(t, Stopped, r.State())
	assert.Empty(t, r.Triggers())
	require.NoError(t, r.Shutdown(shutdownCtx), "shutdown is idempotent")
}

// TestReconcile_AfterShutdown tests that a late reconciliation, such as one
// from a poll that already saw a change, installs nothing once shut down
func TestReconcile_AfterShutdown(t *testing.T) {
	r, store, _ := newTestReconciler(t, config.ScopeDefault)
	require.NoError(t, store.Save(schedule.Config{Enabled: true, Schedule: schedule.Daily, Time: "04:00", DayOfWeek: 1, DayOfMonth: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	require.Len(t, r.Triggers(), 1)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, r.Shutdown(shutdownCtx))

	require.NoError(t, r.Reconcile())
	assert.Empty(t, r.Triggers())
	assert.Equal(t, Stopped, r.State())

	bumpModTime(t, store.Path(), time.Second)
	r.poll()
	assert.Empty(t, r.Triggers())

	require.NoError(t, r.Start(ctx), "a shut down reconciler can be started again")
	assert.Len(t, r.Triggers(), 1)
	require.NoError(t, r.Shutdown(shutdownCtx))
}
