package session

import (
	"time"

	"github.com/hpungsan/pulse/internal/breaks"
	"github.com/hpungsan/pulse/internal/coach"
	"github.com/hpungsan/pulse/internal/cooldown"
	"github.com/hpungsan/pulse/internal/prefs"
)

// Snapshot is a consistent view of the machine for UIs.
type Snapshot struct {
	State     State  `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Trigger   string `json:"trigger,omitempty"`

	SuggestedVariant *breaks.Variant  `json:"suggested_variant,omitempty"`
	CurrentVariant   *breaks.Variant  `json:"current_variant,omitempty"`
	Activity         *breaks.Activity `json:"activity,omitempty"`
	Message          string           `json:"message,omitempty"`

	// SuggestionPending is true while the coaching message is being fetched.
	SuggestionPending bool       `json:"suggestion_pending"`
	RaisedAt          *time.Time `json:"raised_at,omitempty"`

	Outcome          prefs.Outcome       `json:"outcome,omitempty"`
	PendingSentiment bool                `json:"pending_sentiment,omitempty"`
	Feedback         []coach.ChatMessage `json:"feedback,omitempty"`

	Smoothed       float64    `json:"smoothed"`
	LastSampleAt   *time.Time `json:"last_sample_at,omitempty"`
	Threshold      float64    `json:"threshold"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

// Snapshot returns the current observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State:             m.state,
		SuggestionPending: m.state == Evaluating,
		Smoothed:          m.smoother.Value(),
		Threshold:         m.threshold,
		NextEligibleAt:    m.policy.State().NextEligibleAt,
	}
	if t := m.smoother.LastUpdatedAt(); !t.IsZero() {
		s.LastSampleAt = &t
	}

	l := m.cur
	if l == nil {
		return s
	}

	suggested := l.suggested
	current := l.variant()
	activity := l.activity
	raisedAt := l.raisedAt

	s.SessionID = l.id
	s.Trigger = l.trigger
	s.SuggestedVariant = &suggested
	s.Activity = &activity
	s.Message = l.message
	s.RaisedAt = &raisedAt
	s.Outcome = l.outcome
	s.PendingSentiment = l.pending != nil
	s.Feedback = append([]coach.ChatMessage(nil), l.history...)
	if m.state >= AwaitingChoice {
		s.CurrentVariant = &current
	}
	return s
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Preferences returns a copy of the current preference model.
func (m *Machine) Preferences() prefs.Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model.Clone()
}

// Estimates returns the value the selector would use for each catalog
// variant, in catalog order.
func (m *Machine) Estimates() []Estimate {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Estimate, 0, m.catalog.Len())
	for _, v := range m.catalog.Variants() {
		sc, _ := m.model.Score(v.ID)
		out = append(out, Estimate{
			VariantID: v.ID,
			Title:     v.Title,
			Score:     sc,
			Estimate:  m.selector.Estimate(m.model, v.ID),
		})
	}
	return out
}

// Estimate pairs a variant's learned score with the selector's estimate.
type Estimate struct {
	VariantID string      `json:"variant_id"`
	Title     string      `json:"title"`
	Score     prefs.Score `json:"score"`
	Estimate  float64     `json:"estimate"`
}

// Cooldown returns the current cooldown state.
func (m *Machine) Cooldown() cooldown.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy.State()
}

// Catalog returns the variant catalog.
func (m *Machine) Catalog() *breaks.Catalog {
	return m.catalog
}
