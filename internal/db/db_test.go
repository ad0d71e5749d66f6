package db

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/pulse/internal/cooldown"
	"github.com/hpungsan/pulse/internal/prefs"
)

func TestInit_Layout(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", ".pulse")

	db, err := Init(baseDir)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(filepath.Join(baseDir, "exports"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	dbInfo, err := os.Stat(filepath.Join(baseDir, FileName))
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		baseInfo, err := os.Stat(baseDir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), baseInfo.Mode().Perm())
		assert.Equal(t, os.FileMode(0600), dbInfo.Mode().Perm())
	}

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busy int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout;").Scan(&busy))
	assert.Equal(t, 5000, busy)
}

func TestInit_BaseDirIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	_, err := Init(path)
	assert.Error(t, err)
}

func TestInit_Schema(t *testing.T) {
	db := openTestDB(t)

	want := map[string][]string{
		"preference_scores": {"mean", "tries", "updated_at", "variant_id"},
		"machine_state":     {"key", "updated_at", "value_json"},
		"feedback_events":   {"id", "occurred_at", "outcome", "sentiment", "session_id", "variant_id"},
		"sessions": {
			"activity", "chosen_variant", "ended_at", "id", "message", "outcome",
			"raised_at", "sentiment", "stress", "suggested_variant", "trigger_kind",
		},
	}
	for table, cols := range want {
		rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
		require.NoError(t, err, table)
		var got []string
		for rows.Next() {
			var name string
			require.NoError(t, rows.Scan(&name))
			got = append(got, name)
		}
		require.NoError(t, rows.Err())
		rows.Close()
		sort.Strings(got)
		assert.Equal(t, cols, got, table)
	}

	for _, idx := range []string{"idx_feedback_events_occurred", "idx_sessions_ended"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		assert.NoError(t, err, idx)
	}
}

func TestUserVersion(t *testing.T) {
	db := openTestDB(t)

	v, err := GetUserVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)

	require.NoError(t, SetUserVersion(db, 7))
	v, err = GetUserVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

// Machine state written before a restart must survive migration on reopen.
func TestInit_ReopenKeepsMachineState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db1, err := Init(dir)
	require.NoError(t, err)

	m := prefs.NewModel()
	m.Scores["breathing"] = prefs.Score{Mean: 1.25, Tries: 3}
	m.Trigger = prefs.Score{Mean: -0.5, Tries: 2}
	require.NoError(t, SavePreferences(ctx, db1, m))

	next := ts.Add(20 * time.Minute)
	ended := ts
	require.NoError(t, SaveCooldown(ctx, db1, cooldown.State{NextEligibleAt: &next, LastEndedAt: &ended}))
	require.NoError(t, SaveRecentActivities(ctx, db1, []string{"Box Breathing", "Neck Rolls"}))

	rows, err := db1.Query("SELECT key FROM machine_state ORDER BY key")
	require.NoError(t, err)
	var keys []string
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, []string{keyCooldown, keyRecent, keyTrigger}, keys)
	require.NoError(t, db1.Close())

	db2, err := Init(dir)
	require.NoError(t, err)
	defer db2.Close()

	v, err := GetUserVersion(db2)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)

	snap, err := NewStore(db2).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, m, snap.Prefs)
	require.NotNil(t, snap.Cooldown.NextEligibleAt)
	require.NotNil(t, snap.Cooldown.LastEndedAt)
	assert.True(t, next.Equal(*snap.Cooldown.NextEligibleAt))
	assert.True(t, ended.Equal(*snap.Cooldown.LastEndedAt))
	assert.Equal(t, []string{"Box Breathing", "Neck Rolls"}, snap.RecentActivities)
}

// A database already at the current version is left untouched by Init.
func TestInit_SkipsAppliedMigration(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db1, err := Init(dir)
	require.NoError(t, err)
	require.NoError(t, SaveRecentActivities(ctx, db1, []string{"Walk"}))
	_, err = db1.Exec("DROP TABLE sessions")
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Init(dir)
	require.NoError(t, err)
	defer db2.Close()

	var n int
	require.NoError(t, db2.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sessions'").Scan(&n))
	assert.Zero(t, n)

	titles, err := LoadRecentActivities(ctx, db2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Walk"}, titles)
}
