package breaks

import "math/rand/v2"

// Rotation draws activities for a variant while avoiding the most recently
// used ones. It is not safe for concurrent use.
type Rotation struct {
	window int
	recent []string // most recent first
}

// NewRotation creates a Rotation remembering up to window titles.
// recent is the persisted history, most recent first.
func NewRotation(window int, recent []string) *Rotation {
	r := &Rotation{window: window}
	for _, title := range recent {
		if len(r.recent) >= window {
			break
		}
		r.recent = append(r.recent, title)
	}
	return r
}

// Pick draws an activity for v uniformly from those not recently used,
// falling back to all of v's activities when every one is recent. The pick
// is recorded as most recent.
func (r *Rotation) Pick(v Variant, rng *rand.Rand) Activity {
	if len(v.Activities) == 0 {
		a := v.DefaultActivity()
		r.remember(a.Title)
		return a
	}

	available := make([]Activity, 0, len(v.Activities))
	for _, a := range v.Activities {
		if !r.isRecent(a.Title) {
			available = append(available, a)
		}
	}
	if len(available) == 0 {
		available = v.Activities
	}

	a := available[rng.IntN(len(available))]
	r.remember(a.Title)
	return a
}

// Recent returns the remembered titles, most recent first.
func (r *Rotation) Recent() []string {
	return append([]string(nil), r.recent...)
}

func (r *Rotation) isRecent(title string) bool {
	for _, t := range r.recent {
		if t == title {
			return true
		}
	}
	return false
}

func (r *Rotation) remember(title string) {
	if r.window <= 0 {
		return
	}
	next := make([]string, 0, r.window)
	next = append(next, title)
	for _, t := range r.recent {
		if len(next) >= r.window {
			break
		}
		next = append(next, t)
	}
	r.recent = next
}
