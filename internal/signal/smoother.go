// Package signal turns noisy per-frame stress readings into a stable decision signal.
package signal

import (
	"fmt"
	"time"
)

// Sample is one raw reading from the vision collaborator.
type Sample struct {
	Raw         float64   `json:"raw"`
	UserPresent bool      `json:"user_present"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Smoother is an exponential moving average over raw stress samples.
// It is not safe for concurrent use; the session machine serializes access.
type Smoother struct {
	alpha       float64
	value       float64
	initialized bool
	updatedAt   time.Time
}

// New returns a Smoother whose first sample initializes the estimate.
func New(alpha float64) (*Smoother, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, fmt.Errorf("alpha must be in (0,1], got %v", alpha)
	}
	return &Smoother{alpha: alpha}, nil
}

// NewSeeded returns a Smoother that blends the first sample against seed.
func NewSeeded(alpha, seed float64) (*Smoother, error) {
	s, err := New(alpha)
	if err != nil {
		return nil, err
	}
	s.value = seed
	s.initialized = true
	return s, nil
}

// Update folds raw into the estimate and returns the new value.
func (s *Smoother) Update(raw float64, at time.Time) float64 {
	if !s.initialized {
		s.value = raw
		s.initialized = true
	} else {
		s.value = s.alpha*raw + (1-s.alpha)*s.value
	}
	s.updatedAt = at
	return s.value
}

// Value returns the current estimate (0 before any sample on an unseeded smoother).
func (s *Smoother) Value() float64 {
	return s.value
}

// LastUpdatedAt returns when the estimate last changed.
func (s *Smoother) LastUpdatedAt() time.Time {
	return s.updatedAt
}

// Alpha returns the configured weight.
func (s *Smoother) Alpha() float64 {
	return s.alpha
}
