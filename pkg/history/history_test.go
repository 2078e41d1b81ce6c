package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLConsole/pkg/backup"
	"github.com/supporttools/GoSQLConsole/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store, err := Open(config.HistorySQLite, filepath.Join(t.TempDir(), "data", "history.db"), false, logger)
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { store.Close() })
	return store
}

func result(id, db string, trigger backup.Trigger, ok bool, started time.Time) backup.Result {
	res := backup.Result{
		RunID:      id,
		DatabaseID: db,
		Trigger:    trigger,
		Success:    ok,
		Output:     "done",
		StartedAt:  started,
		Duration:   1500 * time.Millisecond,
	}
	if !ok {
		res.Output = "Access denied"
		res.Error = "backup.sh exited with code 2"
	}
	return res
}

// TestOpen tests driver selection
func TestOpen(t *testing.T) {
	logger, _ := test.NewNullLogger()

	store, err := Open(config.HistoryNone, "", false, logger)
	assert.NoError(t, err)
	assert.Nil(t, store)

	_, err = Open("postgres", "dsn", false, logger)
	assert.ErrorContains(t, err, "unsupported history driver")
}

// TestRecordAndRecent tests storing runs and reading them back newest first
func TestRecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 2, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, result("a", "1", backup.TriggerScheduled, true, base)))
	require.NoError(t, store.Record(ctx, result("b", "2", backup.TriggerManual, false, base.Add(time.Hour))))
	require.NoError(t, store.AfterBackup(ctx, result("c", "1", backup.TriggerManual, true, base.Add(2*time.Hour))))

	runs, err := store.Recent(ctx, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})
	assert.Equal(t, int64(1500), runs[0].DurationMS)
	assert.Equal(t, "Access denied", runs[1].Output)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "by database", filter: Filter{DatabaseID: "1"}, want: []string{"c", "a"}},
		{name: "by trigger", filter: Filter{Trigger: string(backup.TriggerManual)}, want: []string{"c", "b"}},
		{name: "failed only", filter: Filter{FailedOnly: true}, want: []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.Recent(ctx, 10, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.RunID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	runs, err = store.Recent(ctx, 1, Filter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// TestRecord_DuplicateRunID tests the unique run id constraint
func TestRecord_DuplicateRunID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	res := result("same", "1", backup.TriggerCLI, true, time.Now())

	require.NoError(t, store.Record(ctx, res))
	assert.Error(t, store.Record(ctx, res))
}

// TestRecord_TruncatesOutput tests the output size bound
func TestRecord_TruncatesOutput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	res := result("big", "1", backup.TriggerCLI, true, time.Now())
	res.Output = strings.Repeat("x", maxOutput+10)

	require.NoError(t, store.Record(ctx, res))
	runs, err := store.Recent(ctx, 1, Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, strings.HasSuffix(runs[0].Output, "[truncated]"))
	assert.Less(t, len(runs[0].Output), maxOutput+20)
}

// TestLastSuccessAndPrune tests the newest successful run and pruning
func TestLastSuccessAndPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 2, 0, 0, 0, time.UTC)

	last, err := store.LastSuccess(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, store.Record(ctx, result("old", "1", backup.TriggerScheduled, true, base)))
	require.NoError(t, store.Record(ctx, result("new", "1", backup.TriggerScheduled, true, base.Add(24*time.Hour))))
	require.NoError(t, store.Record(ctx, result("failed", "1", backup.TriggerScheduled, false, base.Add(48*time.Hour))))

	last, err = store.LastSuccess(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "new", last.RunID)

	removed, err := store.PruneBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	runs, err := store.Recent(ctx, 10, Filter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
