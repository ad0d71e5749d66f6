package session

import (
	"context"
	"time"

	"github.com/hpungsan/pulse/internal/cooldown"
	"github.com/hpungsan/pulse/internal/prefs"
)

// Record is the log entry written when a session returns to Idle.
type Record struct {
	ID               string          `json:"id"`
	Trigger          string          `json:"trigger"`
	StressAtTrigger  float64         `json:"stress_at_trigger"`
	SuggestedVariant string          `json:"suggested_variant"`
	ChosenVariant    string          `json:"chosen_variant,omitempty"`
	Activity         string          `json:"activity,omitempty"`
	Message          string          `json:"message,omitempty"`
	Outcome          prefs.Outcome   `json:"outcome"`
	Sentiment        prefs.Sentiment `json:"sentiment,omitempty"`
	RaisedAt         time.Time       `json:"raised_at"`
	EndedAt          time.Time       `json:"ended_at"`
}

// Store persists machine state. Every method is called with the machine
// lock held, in the order changes happen.
type Store interface {
	SavePreferences(ctx context.Context, m prefs.Model) error
	SaveCooldown(ctx context.Context, s cooldown.State) error
	// RecordEvent inserts e, or replaces the row with the same ID.
	RecordEvent(ctx context.Context, e prefs.Event) error
	RecordSession(ctx context.Context, r Record) error
	SaveRecentActivities(ctx context.Context, titles []string) error
}

type nopStore struct{}

func (nopStore) SavePreferences(context.Context, prefs.Model) error { return nil }
func (nopStore) SaveCooldown(context.Context, cooldown.State) error { return nil }
func (nopStore) RecordEvent(context.Context, prefs.Event) error { return nil }
func (nopStore) RecordSession(context.Context, Record) error { return nil }
func (nopStore) SaveRecentActivities(context.Context, []string) error { return nil }
