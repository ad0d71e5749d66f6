package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpungsan/pulse/internal/config"
	"github.com/hpungsan/pulse/internal/db"
	"github.com/hpungsan/pulse/internal/ops"
	"github.com/hpungsan/pulse/internal/prefs"
	"github.com/hpungsan/pulse/internal/session"
)

func newTestEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Init(dir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return &env{
		baseDir: dir,
		db:      database,
		cfg:     config.DefaultConfig(),
		logger:  zap.NewNop(),
	}
}

// runCLI runs the app with args and stdin, returning what it wrote.
func runCLI(t *testing.T, e *env, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(e)
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"pulse"}, args...))
	return out.String(), err
}

func jsonLines(t *testing.T, s string) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &v), line)
		lines = append(lines, v)
	}
	return lines
}

func TestBaseDir(t *testing.T) {
	t.Setenv("PULSE_HOME", "/tmp/pulse-test-home")
	dir, err := baseDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pulse-test-home", dir)

	t.Setenv("PULSE_HOME", "")
	dir, err = baseDir()
	require.NoError(t, err)
	assert.Equal(t, ".pulse", filepath.Base(dir))
}

func TestLoadCatalog(t *testing.T) {
	cfg := config.DefaultConfig()
	c, err := loadCatalog(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Len())

	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadCatalog(cfg)
	assert.Error(t, err)
}

func TestCLISimulate_RaisesOnThirdHighSample(t *testing.T) {
	e := newTestEnv(t)

	out, err := runCLI(t, e, "90\n90\n90\n", "simulate")
	require.NoError(t, err)

	lines := jsonLines(t, out)
	require.Len(t, lines, 2)
	assert.Equal(t, float64(3), lines[0]["sample"])
	assert.Equal(t, "suggesting", lines[0]["state"])
	assert.InDelta(t, 24.39, lines[0]["smoothed"].(float64), 1e-9)
	assert.NotEmpty(t, lines[0]["variant"])
	assert.NotEmpty(t, lines[0]["message"])

	summary := lines[1]
	assert.Equal(t, float64(3), summary["samples"])
	assert.Equal(t, float64(1), summary["suggestions"])
}

func TestCLISimulate_AbsentUserNeverTriggers(t *testing.T) {
	e := newTestEnv(t)

	out, err := runCLI(t, e, "# face not detected\n90,0\n90,0\n90,0\n90,0\n", "simulate")
	require.NoError(t, err)

	lines := jsonLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(4), lines[0]["samples"])
	assert.Equal(t, float64(0), lines[0]["suggestions"])
}

func TestCLISimulate_CompleteUpdatesPreferences(t *testing.T) {
	e := newTestEnv(t)

	out, err := runCLI(t, e, "90\n90\n90\n90\n", "simulate", "--respond", "complete", "--sentiment", "positive")
	require.NoError(t, err)

	lines := jsonLines(t, out)
	require.Len(t, lines, 3)
	assert.Equal(t, "suggesting", lines[0]["state"])
	assert.Equal(t, "idle", lines[1]["state"])

	var summary simulateSummary
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.Split(strings.TrimSpace(out), "\n")[2])), &summary))
	assert.Equal(t, 1, summary.Suggestions)

	var tried []session.Estimate
	for _, v := range summary.Variants {
		if v.Score.Tries > 0 {
			tried = append(tried, v)
		}
	}
	require.Len(t, tried, 1)
	assert.Equal(t, lines[0]["variant"], tried[0].VariantID)
	assert.InDelta(t, 1.5, tried[0].Score.Mean, 1e-9)

	// Simulation does not touch stored state.
	stored, err := db.LoadPreferences(context.Background(), e.db)
	require.NoError(t, err)
	assert.Empty(t, stored.Scores)
}

func TestCLISimulate_Dismiss(t *testing.T) {
	e := newTestEnv(t)

	out, err := runCLI(t, e, "90\n90\n90\n90\n90\n", "simulate", "--respond", "dismiss")
	require.NoError(t, err)

	lines := jsonLines(t, out)
	require.Len(t, lines, 3)
	assert.Equal(t, "idle", lines[1]["state"])
	assert.Equal(t, float64(1), lines[2]["suggestions"])
}

func TestCLISimulate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"bad respond", "", []string{"--respond", "sometimes"}, "INVALID_REQUEST"},
		{"bad sentiment", "", []string{"--sentiment", "ecstatic"}, "INVALID_REQUEST"},
		{"malformed line", "90\nloud\n", nil, "line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			_, err := runCLI(t, e, tt.stdin, append([]string{"simulate"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCLIStatus(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m := prefs.NewModel()
	m.Scores["stretch"] = prefs.Score{Mean: 0.75, Tries: 2}
	require.NoError(t, db.SavePreferences(ctx, e.db, m))

	out, err := runCLI(t, e, "", "status")
	require.NoError(t, err)

	var got statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, prefs.Score{Mean: 0.75, Tries: 2}, got.Preferences.Scores["stretch"])
	assert.True(t, got.CanSuggest)
	assert.Nil(t, got.Cooldown.NextEligibleAt)
}

func TestCLIPrefs(t *testing.T) {
	e := newTestEnv(t)

	m := prefs.NewModel()
	m.Scores["breathing"] = prefs.Score{Mean: 1.5, Tries: 1}
	require.NoError(t, db.SavePreferences(context.Background(), e.db, m))

	out, err := runCLI(t, e, "", "prefs")
	require.NoError(t, err)

	var got ops.PrefsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Variants, 5)
	for _, v := range got.Variants {
		if v.VariantID == "breathing" {
			assert.InDelta(t, 1.5, v.Estimate, 1e-9)
		} else {
			assert.InDelta(t, 1.0, v.Estimate, 1e-9)
		}
	}
}

func TestCLIHistory(t *testing.T) {
	e := newTestEnv(t)

	out, err := runCLI(t, e, "", "history")
	require.NoError(t, err)

	var got ops.HistoryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Empty(t, got.Sessions)

	_, err = runCLI(t, e, "", "history", "--limit", "-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestCLIReset(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m := prefs.NewModel()
	m.Scores["puzzle"] = prefs.Score{Mean: -0.5, Tries: 1}
	require.NoError(t, db.SavePreferences(ctx, e.db, m))

	_, err := runCLI(t, e, "", "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	stored, err := db.LoadPreferences(ctx, e.db)
	require.NoError(t, err)
	assert.Len(t, stored.Scores, 1)

	_, err = runCLI(t, e, "", "reset", "--yes")
	require.NoError(t, err)

	stored, err = db.LoadPreferences(ctx, e.db)
	require.NoError(t, err)
	assert.Empty(t, stored.Scores)
}

func TestCLIExportImport(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m := prefs.NewModel()
	m.Scores["eye-rest"] = prefs.Score{Mean: 1, Tries: 4}
	m.Trigger = prefs.Score{Mean: 0.5, Tries: 2}
	require.NoError(t, db.SavePreferences(ctx, e.db, m))

	out, err := runCLI(t, e, "", "export")
	require.NoError(t, err)
	var exported ops.ExportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &exported))
	assert.Equal(t, filepath.Join(e.baseDir, "exports"), filepath.Dir(exported.Path))
	assert.Equal(t, 1, exported.Scores)

	require.NoError(t, db.Reset(ctx, e.db))

	out, err = runCLI(t, e, "", "import", "--path", exported.Path)
	require.NoError(t, err)
	var imported ops.ImportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, 1, imported.Scores)

	stored, err := db.LoadPreferences(ctx, e.db)
	require.NoError(t, err)
	assert.Equal(t, m.Scores, stored.Scores)
	assert.Equal(t, m.Trigger, stored.Trigger)
}

func TestCLIImport_Errors(t *testing.T) {
	e := newTestEnv(t)

	_, err := runCLI(t, e, "", "import")
	require.Error(t, err)

	_, err = runCLI(t, e, "", "import", "--path", filepath.Join(e.baseDir, "exports", "missing.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FILE_NOT_FOUND")

	_, err = runCLI(t, e, "", "import", "--path", filepath.Join(e.baseDir, "exports", "x.jsonl"), "--mode", "append")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestOutputError(t *testing.T) {
	e := newTestEnv(t)
	_, err := runCLI(t, e, "", "reset")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[INVALID_REQUEST] "))
}
