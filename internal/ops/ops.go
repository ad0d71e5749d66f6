// Package ops exposes the break companion's operations to the CLI, MCP and
// HTTP surfaces. Inputs are validated here so every surface reports the
// same errors.
package ops

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/hpungsan/pulse/internal/coach"
	"github.com/hpungsan/pulse/internal/db"
	"github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/prefs"
	"github.com/hpungsan/pulse/internal/session"
	"github.com/hpungsan/pulse/internal/signal"
)

// History limits.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 500
)

// MaxCooldownSeconds is the longest dismissal cooldown a time.Duration can hold.
const MaxCooldownSeconds = math.MaxInt64 / int64(time.Second)

// Service runs operations against a live machine and its database.
type Service struct {
	machine *session.Machine
	db      *sql.DB
}

// NewService wraps m. database may be nil, in which case history
// operations return INTERNAL.
func NewService(m *session.Machine, database *sql.DB) *Service {
	return &Service{machine: m, db: database}
}

// Machine returns the wrapped machine.
func (s *Service) Machine() *session.Machine {
	return s.machine
}

// CommandOutput is the result of a state machine command. Applied is false
// when the command was not valid in the current state.
type CommandOutput struct {
	Applied bool             `json:"applied"`
	Status  session.Snapshot `json:"status"`
}

func (s *Service) result(applied bool) *CommandOutput {
	return &CommandOutput{Applied: applied, Status: s.machine.Snapshot()}
}

// Status returns the machine snapshot.
func (s *Service) Status() session.Snapshot {
	return s.machine.Snapshot()
}

// IngestInput is one sensor reading.
type IngestInput struct {
	StressLevel *float64 `json:"stress_level"`
	// UserPresent defaults to true.
	UserPresent *bool     `json:"user_present,omitempty"`
	ObservedAt  time.Time `json:"observed_at,omitempty"`
}

// IngestOutput reports the smoothed value after the sample.
type IngestOutput struct {
	Triggered bool          `json:"triggered"`
	Smoothed  float64       `json:"smoothed"`
	State     session.State `json:"state"`
}

// Ingest feeds a sample to the machine.
func (s *Service) Ingest(input IngestInput) (*IngestOutput, error) {
	if input.StressLevel == nil {
		return nil, errors.NewInvalidRequest("stress_level is required")
	}
	raw := *input.StressLevel
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, errors.NewInvalidRequest("stress_level must be a finite number")
	}
	present := true
	if input.UserPresent != nil {
		present = *input.UserPresent
	}

	triggered := s.machine.Ingest(signal.Sample{Raw: raw, UserPresent: present, ObservedAt: input.ObservedAt})
	snap := s.machine.Snapshot()
	return &IngestOutput{Triggered: triggered, Smoothed: snap.Smoothed, State: snap.State}, nil
}

// Force raises a suggestion now.
func (s *Service) Force() *CommandOutput {
	return s.result(s.machine.Force())
}

// Accept accepts the shown suggestion.
func (s *Service) Accept() *CommandOutput {
	return s.result(s.machine.Accept())
}

// ChooseInput picks a variant. An empty VariantID keeps the suggestion.
type ChooseInput struct {
	VariantID string `json:"variant_id,omitempty"`
}

// Choose starts the break.
func (s *Service) Choose(input ChooseInput) (*CommandOutput, error) {
	ok, err := s.machine.Choose(input.VariantID)
	if err != nil {
		return nil, err
	}
	return s.result(ok), nil
}

// DismissInput optionally overrides the dismissal cooldown.
type DismissInput struct {
	CooldownSeconds *int `json:"cooldown_seconds,omitempty"`
}

// Dismiss rejects the suggestion.
func (s *Service) Dismiss(input DismissInput) (*CommandOutput, error) {
	var cd *time.Duration
	if input.CooldownSeconds != nil {
		if *input.CooldownSeconds < 0 {
			return nil, errors.NewInvalidRequest("cooldown_seconds must not be negative")
		}
		if int64(*input.CooldownSeconds) > MaxCooldownSeconds {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("cooldown_seconds must not exceed %d", MaxCooldownSeconds))
		}
		d := time.Duration(*input.CooldownSeconds) * time.Second
		cd = &d
	}
	return s.result(s.machine.Dismiss(cd)), nil
}

// EndInput carries an optional sentiment for Complete and Skip.
type EndInput struct {
	Sentiment string `json:"sentiment,omitempty"`
}

// Complete ends the break as completed.
func (s *Service) Complete(input EndInput) (*CommandOutput, error) {
	sent, err := parseSentiment(input.Sentiment)
	if err != nil {
		return nil, err
	}
	return s.result(s.machine.Complete(sent)), nil
}

// Skip ends the break as skipped.
func (s *Service) Skip(input EndInput) (*CommandOutput, error) {
	sent, err := parseSentiment(input.Sentiment)
	if err != nil {
		return nil, err
	}
	return s.result(s.machine.Skip(sent)), nil
}

func parseSentiment(v string) (prefs.Sentiment, error) {
	sent, err := prefs.ParseSentiment(v)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("sentiment must be positive, neutral, negative or none; got %q", v))
	}
	return sent, nil
}

// FeedbackInput is one user chat turn.
type FeedbackInput struct {
	Text string `json:"text"`
}

// FeedbackOutput is the assistant's reply. Reply includes support
// resources when distress was detected.
type FeedbackOutput struct {
	Applied   bool             `json:"applied"`
	Reply     string           `json:"reply,omitempty"`
	Sentiment prefs.Sentiment  `json:"sentiment,omitempty"`
	Distress  bool             `json:"distress,omitempty"`
	Status    session.Snapshot `json:"status"`
}

// Feedback sends a chat turn while the machine awaits feedback.
func (s *Service) Feedback(ctx context.Context, input FeedbackInput) (*FeedbackOutput, error) {
	reply, applied, err := s.machine.Feedback(ctx, input.Text)
	if err != nil {
		return nil, err
	}
	out := &FeedbackOutput{Applied: applied, Status: s.machine.Snapshot()}
	if applied {
		out.Reply = coach.WithResources(reply)
		out.Sentiment = reply.Sentiment
		out.Distress = reply.Distress
	}
	return out, nil
}

// CloseFeedback ends the feedback exchange.
func (s *Service) CloseFeedback() *CommandOutput {
	return s.result(s.machine.CloseFeedback())
}

// PrefsOutput lists learned scores with the selector's estimates.
type PrefsOutput struct {
	Variants []session.Estimate `json:"variants"`
	Trigger  prefs.Score        `json:"trigger"`
}

// Preferences returns the live preference model.
func (s *Service) Preferences() *PrefsOutput {
	return &PrefsOutput{
		Variants: s.machine.Estimates(),
		Trigger:  s.machine.Preferences().Trigger,
	}
}

// HistoryInput bounds a history listing.
type HistoryInput struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryOutput lists recent sessions, newest first.
type HistoryOutput struct {
	Sessions []session.Record `json:"sessions"`
}

// History lists finished sessions from the database.
func History(ctx context.Context, database *sql.DB, input HistoryInput) (*HistoryOutput, error) {
	limit, err := historyLimit(input.Limit)
	if err != nil {
		return nil, err
	}
	records, err := db.ListSessions(ctx, database, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []session.Record{}
	}
	return &HistoryOutput{Sessions: records}, nil
}

// History lists finished sessions.
func (s *Service) History(ctx context.Context, input HistoryInput) (*HistoryOutput, error) {
	if s.db == nil {
		return nil, errors.NewInternal(fmt.Errorf("history requires a database"))
	}
	return History(ctx, s.db, input)
}

func historyLimit(n int) (int, error) {
	switch {
	case n < 0:
		return 0, errors.NewInvalidRequest("limit must not be negative")
	case n == 0:
		return DefaultHistoryLimit, nil
	case n > MaxHistoryLimit:
		return MaxHistoryLimit, nil
	}
	return n, nil
}
