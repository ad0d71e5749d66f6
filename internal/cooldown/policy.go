// Package cooldown enforces spacing between break suggestions.
package cooldown

import "time"

// State is the persisted part of the policy.
type State struct {
	LastEndedAt    *time.Time `json:"last_ended_at,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

// Policy decides whether a suggestion may be raised through the normal path.
// Forced triggers never consult it.
type Policy struct {
	minInterval     time.Duration
	dismissCooldown time.Duration
	state           State
}

// New creates a Policy with a global minimum interval, the default cooldown a
// dismissal requests, and previously persisted state.
func New(minInterval, dismissCooldown time.Duration, state State) *Policy {
	return &Policy{
		minInterval:     minInterval,
		dismissCooldown: dismissCooldown,
		state:           state,
	}
}

// CanEvaluate reports whether now is at or past the next eligible time.
func (p *Policy) CanEvaluate(now time.Time) bool {
	if p.state.NextEligibleAt == nil {
		return true
	}
	return !now.Before(*p.state.NextEligibleAt)
}

// OnSessionEnded records a session end. The next eligible time is the later of
// now+minInterval and now+override. A nil override applies only the global minimum.
func (p *Policy) OnSessionEnded(now time.Time, override *time.Duration) {
	next := now.Add(p.minInterval)
	if override != nil {
		if explicit := now.Add(*override); explicit.After(next) {
			next = explicit
		}
	}
	ended := now
	p.state = State{LastEndedAt: &ended, NextEligibleAt: &next}
}

// OnDismissed records a dismissal, applying the default dismissal cooldown
// when the caller did not request one.
func (p *Policy) OnDismissed(now time.Time, requested *time.Duration) {
	cd := p.dismissCooldown
	if requested != nil {
		cd = *requested
	}
	p.OnSessionEnded(now, &cd)
}

// State returns a copy of the persisted state.
func (p *Policy) State() State {
	var s State
	if p.state.LastEndedAt != nil {
		t := *p.state.LastEndedAt
		s.LastEndedAt = &t
	}
	if p.state.NextEligibleAt != nil {
		t := *p.state.NextEligibleAt
		s.NextEligibleAt = &t
	}
	return s
}

// MinInterval returns the global minimum.
func (p *Policy) MinInterval() time.Duration {
	return p.minInterval
}
