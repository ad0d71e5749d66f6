package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/pulse/internal/cooldown"
	"github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/prefs"
	"github.com/hpungsan/pulse/internal/session"
)

// machine_state keys.
const (
	keyTrigger  = "trigger_score"
	keyCooldown = "cooldown"
	keyRecent   = "recent_activities"
)

// LoadPreferences reads the preference model. An empty database yields an
// empty model.
func LoadPreferences(ctx context.Context, db *sql.DB) (prefs.Model, error) {
	m := prefs.NewModel()

	rows, err := db.QueryContext(ctx, `SELECT variant_id, mean, tries FROM preference_scores`)
	if err != nil {
		return m, errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			s  prefs.Score
		)
		if err := rows.Scan(&id, &s.Mean, &s.Tries); err != nil {
			return m, errors.NewInternal(err)
		}
		m.Scores[id] = s
	}
	if err := rows.Err(); err != nil {
		return m, errors.NewInternal(err)
	}

	if _, err := getState(ctx, db, keyTrigger, &m.Trigger); err != nil {
		return m, err
	}
	return m, nil
}

// SavePreferences replaces the stored preference model.
func SavePreferences(ctx context.Context, db *sql.DB, m prefs.Model) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if err := writePreferences(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func writePreferences(ctx context.Context, tx *sql.Tx, m prefs.Model) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM preference_scores`); err != nil {
		return errors.NewInternal(err)
	}

	now := time.Now().UnixMilli()
	for _, id := range m.VariantIDs() {
		s := m.Scores[id]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO preference_scores (variant_id, mean, tries, updated_at) VALUES (?, ?, ?, ?)`,
			id, s.Mean, s.Tries, now,
		); err != nil {
			return errors.NewInternal(err)
		}
	}
	return putState(ctx, tx, keyTrigger, m.Trigger)
}

// Import replaces the preference model and upserts events in a single
// transaction.
func Import(ctx context.Context, db *sql.DB, m prefs.Model, events []prefs.Event) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if err := writePreferences(ctx, tx, m); err != nil {
		return err
	}
	for _, e := range events {
		if err := upsertEvent(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LoadCooldown reads the cooldown state (zero if never saved).
func LoadCooldown(ctx context.Context, db *sql.DB) (cooldown.State, error) {
	var s cooldown.State
	_, err := getState(ctx, db, keyCooldown, &s)
	return s, err
}

// SaveCooldown stores the cooldown state.
func SaveCooldown(ctx context.Context, db *sql.DB, s cooldown.State) error {
	return putState(ctx, db, keyCooldown, s)
}

// LoadRecentActivities reads the recently used activity titles, most recent first.
func LoadRecentActivities(ctx context.Context, db *sql.DB) ([]string, error) {
	var titles []string
	_, err := getState(ctx, db, keyRecent, &titles)
	return titles, err
}

// SaveRecentActivities stores the recently used activity titles.
func SaveRecentActivities(ctx context.Context, db *sql.DB, titles []string) error {
	if titles == nil {
		titles = []string{}
	}
	return putState(ctx, db, keyRecent, titles)
}

// UpsertEvent inserts a feedback event, replacing its sentiment if the ID
// already exists.
func UpsertEvent(ctx context.Context, db *sql.DB, e prefs.Event) error {
	return upsertEvent(ctx, db, e)
}

func upsertEvent(ctx context.Context, db execer, e prefs.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO feedback_events (id, session_id, variant_id, outcome, sentiment, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET sentiment = excluded.sentiment
	`,
		e.ID, toNullString(e.SessionID), e.VariantID, string(e.Outcome),
		toNullString(string(e.Sentiment)), e.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListEvents returns feedback events. newestFirst orders by occurrence
// descending; limit <= 0 returns all.
func ListEvents(ctx context.Context, db *sql.DB, limit int, newestFirst bool) ([]prefs.Event, error) {
	query := `SELECT id, session_id, variant_id, outcome, sentiment, occurred_at FROM feedback_events`
	if newestFirst {
		query += ` ORDER BY occurred_at DESC, id DESC`
	} else {
		query += ` ORDER BY occurred_at ASC, id ASC`
	}
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []prefs.Event
	for rows.Next() {
		var (
			e          prefs.Event
			sessionID  sql.NullString
			outcome    string
			sentiment  sql.NullString
			occurredAt int64
		)
		if err := rows.Scan(&e.ID, &sessionID, &e.VariantID, &outcome, &sentiment, &occurredAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		e.SessionID = sessionID.String
		e.Outcome = prefs.Outcome(outcome)
		e.Sentiment = prefs.Sentiment(sentiment.String)
		e.OccurredAt = time.UnixMilli(occurredAt).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// InsertSession stores a finished session.
func InsertSession(ctx context.Context, db *sql.DB, r session.Record) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, trigger_kind, stress, suggested_variant, chosen_variant,
			activity, message, outcome, sentiment, raised_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Trigger, r.StressAtTrigger, r.SuggestedVariant, toNullString(r.ChosenVariant),
		toNullString(r.Activity), toNullString(r.Message), string(r.Outcome),
		toNullString(string(r.Sentiment)), r.RaisedAt.UnixMilli(), r.EndedAt.UnixMilli(),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func ListSessions(ctx context.Context, db *sql.DB, limit int) ([]session.Record, error) {
	query := `
		SELECT id, trigger_kind, stress, suggested_variant, chosen_variant,
			activity, message, outcome, sentiment, raised_at, ended_at
		FROM sessions
		ORDER BY ended_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		var (
			r                  session.Record
			chosen, activity   sql.NullString
			message, sentiment sql.NullString
			outcome            string
			raisedAt, endedAt  int64
		)
		if err := rows.Scan(
			&r.ID, &r.Trigger, &r.StressAtTrigger, &r.SuggestedVariant, &chosen,
			&activity, &message, &outcome, &sentiment, &raisedAt, &endedAt,
		); err != nil {
			return nil, errors.NewInternal(err)
		}
		r.ChosenVariant = chosen.String
		r.Activity = activity.String
		r.Message = message.String
		r.Outcome = prefs.Outcome(outcome)
		r.Sentiment = prefs.Sentiment(sentiment.String)
		r.RaisedAt = time.UnixMilli(raisedAt).UTC()
		r.EndedAt = time.UnixMilli(endedAt).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Reset deletes all learned and logged data. The schema is kept.
func Reset(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	for _, table := range []string{"preference_scores", "machine_state", "feedback_events", "sessions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.NewInternal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putState(ctx context.Context, db execer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternal(err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO machine_state (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
	`, key, string(data), time.Now().UnixMilli())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// getState decodes the value stored under key into v. found is false when
// the key was never written.
func getState(ctx context.Context, db *sql.DB, key string, v any) (found bool, err error) {
	var data string
	err = db.QueryRowContext(ctx, `SELECT value_json FROM machine_state WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return true, errors.NewInternal(err)
	}
	return true, nil
}

// toNullString maps "" to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
