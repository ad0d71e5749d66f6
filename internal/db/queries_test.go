package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/pulse/internal/config"
	"github.com/hpungsan/pulse/internal/cooldown"
	"github.com/hpungsan/pulse/internal/prefs"
	"github.com/hpungsan/pulse/internal/session"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var ts = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func TestPreferences_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	m, err := LoadPreferences(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, m.Scores)
	assert.Equal(t, prefs.Score{}, m.Trigger)

	m.Scores["breathing"] = prefs.Score{Mean: 0.5, Tries: 2}
	m.Scores["stretch"] = prefs.Score{Mean: -0.25, Tries: 1}
	m.Trigger = prefs.Score{Mean: 0.75, Tries: 4}
	require.NoError(t, SavePreferences(ctx, db, m))

	got, err := LoadPreferences(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	// Saving replaces rather than merges.
	m2 := prefs.NewModel()
	m2.Scores["puzzle"] = prefs.Score{Mean: 1, Tries: 1}
	require.NoError(t, SavePreferences(ctx, db, m2))

	got, err = LoadPreferences(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"puzzle"}, got.VariantIDs())
	assert.Equal(t, prefs.Score{}, got.Trigger)
}

func TestCooldown_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	s, err := LoadCooldown(ctx, db)
	require.NoError(t, err)
	assert.Nil(t, s.NextEligibleAt)

	p := cooldown.New(15*time.Minute, 5*time.Minute, cooldown.State{})
	p.OnSessionEnded(ts, nil)
	require.NoError(t, SaveCooldown(ctx, db, p.State()))

	s, err = LoadCooldown(ctx, db)
	require.NoError(t, err)
	require.NotNil(t, s.NextEligibleAt)
	assert.True(t, ts.Add(15*time.Minute).Equal(*s.NextEligibleAt))
	assert.True(t, ts.Equal(*s.LastEndedAt))
}

func TestRecentActivities_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	titles, err := LoadRecentActivities(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, titles)

	require.NoError(t, SaveRecentActivities(ctx, db, []string{"Neck Rolls", "Box Breathing"}))
	titles, err = LoadRecentActivities(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"Neck Rolls", "Box Breathing"}, titles)

	require.NoError(t, SaveRecentActivities(ctx, db, nil))
	titles, err = LoadRecentActivities(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestEvents_UpsertAndList(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first := prefs.Event{ID: "01A", SessionID: "S1", VariantID: "breathing", Outcome: prefs.Completed, OccurredAt: ts}
	second := prefs.Event{ID: "01B", VariantID: "stretch", Outcome: prefs.Dismissed, OccurredAt: ts.Add(time.Minute)}
	require.NoError(t, UpsertEvent(ctx, db, first))
	require.NoError(t, UpsertEvent(ctx, db, second))

	first.Sentiment = prefs.SentimentPositive
	require.NoError(t, UpsertEvent(ctx, db, first))

	newest, err := ListEvents(ctx, db, 0, true)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "01B", newest[0].ID)
	assert.Equal(t, first, newest[1])

	oldest, err := ListEvents(ctx, db, 1, false)
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, "01A", oldest[0].ID)
	assert.Equal(t, prefs.SentimentPositive, oldest[0].Sentiment)
}

func TestSessions_InsertAndList(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for i, outcome := range []prefs.Outcome{prefs.Dismissed, prefs.Completed, prefs.Skipped} {
		r := session.Record{
			ID:               string(rune('A' + i)),
			Trigger:          session.TriggerThreshold,
			StressAtTrigger:  24.39,
			SuggestedVariant: "breathing",
			Outcome:          outcome,
			RaisedAt:         ts.Add(time.Duration(i) * time.Hour),
			EndedAt:          ts.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		if outcome != prefs.Dismissed {
			r.ChosenVariant = "eye-rest"
			r.Activity = "20-20-20 Rule"
			r.Message = "Look far away."
			r.Sentiment = prefs.SentimentNeutral
		}
		require.NoError(t, InsertSession(ctx, db, r))
	}

	got, err := ListSessions(ctx, db, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].ID)
	assert.Equal(t, prefs.Skipped, got[0].Outcome)
	assert.Equal(t, "eye-rest", got[0].ChosenVariant)
	assert.Equal(t, ts.Add(2*time.Hour+time.Minute), got[0].EndedAt)

	all, err := ListSessions(ctx, db, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Empty(t, all[2].ChosenVariant)
	assert.Equal(t, prefs.SentimentNone, all[2].Sentiment)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	m := prefs.NewModel()
	m.Scores["breathing"] = prefs.Score{Mean: 1, Tries: 1}
	require.NoError(t, SavePreferences(ctx, db, m))
	require.NoError(t, SaveRecentActivities(ctx, db, []string{"Box Breathing"}))
	require.NoError(t, UpsertEvent(ctx, db, prefs.Event{ID: "E", VariantID: "breathing", Outcome: prefs.Completed, OccurredAt: ts}))

	require.NoError(t, Reset(ctx, db))

	got, err := LoadPreferences(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, got.Scores)
	events, err := ListEvents(ctx, db, 0, true)
	require.NoError(t, err)
	assert.Empty(t, events)
	titles, err := LoadRecentActivities(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewStore(db)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Prefs.Scores)

	m := prefs.NewModel()
	m.Scores["eye-rest"] = prefs.Score{Mean: 0.2, Tries: 5}
	require.NoError(t, s.SavePreferences(ctx, m))
	next := ts.Add(time.Hour)
	require.NoError(t, s.SaveCooldown(ctx, cooldown.State{NextEligibleAt: &next}))
	require.NoError(t, s.SaveRecentActivities(ctx, []string{"Eye Palming"}))

	snap, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.Scores, snap.Prefs.Scores)
	require.NotNil(t, snap.Cooldown.NextEligibleAt)
	assert.True(t, next.Equal(*snap.Cooldown.NextEligibleAt))
	assert.Equal(t, []string{"Eye Palming"}, snap.RecentActivities)
}

func TestStore_LoadCorruptState(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO machine_state (key, value_json, updated_at) VALUES ('trigger_score', '{not json', 0)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO preference_scores (variant_id, mean, tries, updated_at) VALUES ('stretch', 0.5, 2, 0)`)
	require.NoError(t, err)

	snap, err := NewStore(db).Load(ctx)
	assert.Error(t, err)
	assert.NotNil(t, snap.Prefs.Scores)
}

func TestConfigurePool(t *testing.T) {
	db := openTestDB(t)

	ConfigurePool(db, nil)

	cfg := config.DefaultConfig()
	cfg.DBMaxOpenConns = 3
	ConfigurePool(db, cfg)
	assert.Equal(t, 3, db.Stats().MaxOpenConnections)
}

func TestImport_ReplacesPrefsAndUpsertsEvents(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	old := prefs.NewModel()
	old.Scores["stretch"] = prefs.Score{Mean: -0.5, Tries: 1}
	require.NoError(t, SavePreferences(ctx, db, old))
	require.NoError(t, UpsertEvent(ctx, db, prefs.Event{ID: "E1", VariantID: "stretch", Outcome: prefs.Skipped, OccurredAt: ts}))

	m := prefs.NewModel()
	m.Scores["breathing"] = prefs.Score{Mean: 0.5, Tries: 2}
	m.Trigger = prefs.Score{Mean: 1, Tries: 2}
	events := []prefs.Event{
		{ID: "E1", VariantID: "stretch", Outcome: prefs.Skipped, Sentiment: prefs.SentimentNegative, OccurredAt: ts},
		{ID: "E2", VariantID: "breathing", Outcome: prefs.Completed, OccurredAt: ts.Add(time.Minute)},
	}
	require.NoError(t, Import(ctx, db, m, events))

	got, err := LoadPreferences(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	stored, err := ListEvents(ctx, db, 0, false)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, prefs.SentimentNegative, stored[0].Sentiment)
	assert.Equal(t, "E2", stored[1].ID)
}
