// Package prefs holds the learned per-variant preference scores and the
// aggregator that folds break outcomes into them.
package prefs

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Outcome is how a suggestion or break ended.
type Outcome string

const (
	Completed Outcome = "completed"
	Skipped   Outcome = "skipped"
	Dismissed Outcome = "dismissed"
)

// ParseOutcome parses an outcome name, case-insensitively.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case Completed, Skipped, Dismissed:
		return o, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// Sentiment is the user's reported feeling about a break. The zero value
// means no sentiment was given.
type Sentiment string

const (
	SentimentNone     Sentiment = ""
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment parses a sentiment name. An empty string or "none" yields
// SentimentNone.
func ParseSentiment(s string) (Sentiment, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "none":
		return SentimentNone, nil
	case string(SentimentPositive), string(SentimentNeutral), string(SentimentNegative):
		return Sentiment(v), nil
	}
	return "", fmt.Errorf("unknown sentiment %q", s)
}

// Score is a running mean reward over a number of tries.
type Score struct {
	Mean  float64 `json:"mean"`
	Tries int     `json:"tries"`
}

// Update folds one reward into the running mean.
func (s Score) Update(reward float64) Score {
	return Score{
		Mean:  s.Mean + (reward-s.Mean)/float64(s.Tries+1),
		Tries: s.Tries + 1,
	}
}

// Merge combines two running means as if their rewards had been folded
// into a single score.
func (s Score) Merge(o Score) Score {
	n := s.Tries + o.Tries
	if n == 0 {
		return Score{}
	}
	return Score{
		Mean:  (s.Mean*float64(s.Tries) + o.Mean*float64(o.Tries)) / float64(n),
		Tries: n,
	}
}

// Merge folds o into a copy of m, score by score.
func (m Model) Merge(o Model) Model {
	out := m.Clone()
	for id, sc := range o.Scores {
		out.Scores[id] = out.Scores[id].Merge(sc)
	}
	out.Trigger = out.Trigger.Merge(o.Trigger)
	return out
}

func (s Score) valid() bool {
	return s.Tries >= 0 && !math.IsNaN(s.Mean) && !math.IsInf(s.Mean, 0)
}

// Model maps variant ids to scores. Trigger tracks how often raised
// suggestions were accepted (1) versus dismissed (0).
type Model struct {
	Scores  map[string]Score `json:"scores"`
	Trigger Score            `json:"trigger"`
}

// NewModel returns an empty model.
func NewModel() Model {
	return Model{Scores: map[string]Score{}}
}

// Clone returns a deep copy.
func (m Model) Clone() Model {
	out := Model{Scores: make(map[string]Score, len(m.Scores)), Trigger: m.Trigger}
	for k, v := range m.Scores {
		out.Scores[k] = v
	}
	return out
}

// Score returns the score for a variant; ok is false when it was never tried.
func (m Model) Score(variantID string) (Score, bool) {
	s, ok := m.Scores[variantID]
	return s, ok
}

// VariantIDs returns the scored variant ids in sorted order.
func (m Model) VariantIDs() []string {
	ids := make([]string, 0, len(m.Scores))
	for id := range m.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sanitize drops entries that can't be used (empty ids, negative tries,
// non-finite means) and reports how many were dropped.
func (m Model) Sanitize() (Model, int) {
	out := NewModel()
	dropped := 0
	for id, s := range m.Scores {
		if strings.TrimSpace(id) == "" || !s.valid() {
			dropped++
			continue
		}
		out.Scores[id] = s
	}
	if m.Trigger.valid() {
		out.Trigger = m.Trigger
	} else {
		dropped++
	}
	return out, dropped
}

// Event is a single outcome report.
type Event struct {
	ID         string    `json:"id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	VariantID  string    `json:"variant_id"`
	Outcome    Outcome   `json:"outcome"`
	Sentiment  Sentiment `json:"sentiment,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
