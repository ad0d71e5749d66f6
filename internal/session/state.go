package session

import "fmt"

// State is a suggestion lifecycle state.
type State int

const (
	Idle State = iota
	Evaluating
	Suggesting
	AwaitingChoice
	BreakActive
	AwaitingFeedback
)

var stateNames = [...]string{
	Idle:             "idle",
	Evaluating:       "evaluating",
	Suggesting:       "suggesting",
	AwaitingChoice:   "awaiting_choice",
	BreakActive:      "break_active",
	AwaitingFeedback: "awaiting_feedback",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Triggers recorded on a session.
const (
	TriggerThreshold = "threshold"
	TriggerForce     = "force"
)
