package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/pulse/internal/cooldown"
	"github.com/hpungsan/pulse/internal/prefs"
	"github.com/hpungsan/pulse/internal/session"
)

// Store adapts the database to the session machine's persistence port.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// NewStore wraps db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Snapshot is everything the machine restores at startup.
type Snapshot struct {
	Prefs            prefs.Model
	Cooldown         cooldown.State
	RecentActivities []string
}

// Load reads the persisted machine state. Each part is loaded
// independently; the first error is returned alongside whatever loaded.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var firstErr error

	m, err := LoadPreferences(ctx, s.db)
	if err != nil {
		firstErr = err
		m = prefs.NewModel()
	}
	snap.Prefs = m

	if snap.Cooldown, err = LoadCooldown(ctx, s.db); err != nil && firstErr == nil {
		firstErr = err
	}
	if snap.RecentActivities, err = LoadRecentActivities(ctx, s.db); err != nil && firstErr == nil {
		firstErr = err
	}
	return snap, firstErr
}

func (s *Store) SavePreferences(ctx context.Context, m prefs.Model) error {
	return SavePreferences(ctx, s.db, m)
}

func (s *Store) SaveCooldown(ctx context.Context, c cooldown.State) error {
	return SaveCooldown(ctx, s.db, c)
}

func (s *Store) RecordEvent(ctx context.Context, e prefs.Event) error {
	return UpsertEvent(ctx, s.db, e)
}

func (s *Store) RecordSession(ctx context.Context, r session.Record) error {
	return InsertSession(ctx, s.db, r)
}

func (s *Store) SaveRecentActivities(ctx context.Context, titles []string) error {
	return SaveRecentActivities(ctx, s.db, titles)
}
