package prefs

// Rewards maps outcomes to bandit rewards.
type Rewards struct {
	Completed float64
	Skipped   float64
	Dismissed float64
}

// Multipliers scale Completed and Skipped rewards by sentiment.
type Multipliers struct {
	Positive float64
	Neutral  float64
	Negative float64
}

// DefaultRewards returns +1 / -0.5 / 0.
func DefaultRewards() Rewards {
	return Rewards{Completed: 1, Skipped: -0.5, Dismissed: 0}
}

// DefaultMultipliers returns 1.5 / 1 / 0.5.
func DefaultMultipliers() Multipliers {
	return Multipliers{Positive: 1.5, Neutral: 1, Negative: 0.5}
}

// Aggregator converts events to rewards and applies them to a Model.
type Aggregator struct {
	rewards     Rewards
	multipliers Multipliers
}

// NewAggregator creates an Aggregator.
func NewAggregator(r Rewards, m Multipliers) *Aggregator {
	return &Aggregator{rewards: r, multipliers: m}
}

// Reward returns the reward for an event. Dismissed events are not
// sentiment-scaled.
func (a *Aggregator) Reward(e Event) float64 {
	switch e.Outcome {
	case Completed:
		return a.rewards.Completed * a.multiplier(e.Sentiment)
	case Skipped:
		return a.rewards.Skipped * a.multiplier(e.Sentiment)
	case Dismissed:
		return a.rewards.Dismissed
	}
	return 0
}

func (a *Aggregator) multiplier(s Sentiment) float64 {
	switch s {
	case SentimentPositive:
		return a.multipliers.Positive
	case SentimentNegative:
		return a.multipliers.Negative
	case SentimentNeutral:
		return a.multipliers.Neutral
	}
	return 1
}

// Record applies e to a copy of m and returns it; m is not modified.
//
// A dismissal only lowers the trigger score: the user rejected the
// interruption, not a particular break. Completed and skipped breaks update
// the variant's score and count as an accepted suggestion.
func (a *Aggregator) Record(e Event, m Model) Model {
	out := m.Clone()
	switch e.Outcome {
	case Dismissed:
		out.Trigger = out.Trigger.Update(a.Reward(e))
	case Completed, Skipped:
		out.Scores[e.VariantID] = out.Scores[e.VariantID].Update(a.Reward(e))
		out.Trigger = out.Trigger.Update(1)
	}
	return out
}
