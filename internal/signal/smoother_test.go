package signal

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestNew_RejectsAlphaOutOfRange(t *testing.T) {
	for _, alpha := range []float64{0, -0.1, 1.01, math.NaN()} {
		if _, err := New(alpha); err == nil {
			t.Errorf("New(%v) error = nil, want error", alpha)
		}
	}
	if _, err := New(1); err != nil {
		t.Errorf("New(1) error = %v, want nil", err)
	}
}

func TestUpdate_FirstSampleInitializes(t *testing.T) {
	s, err := New(0.1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := s.Update(42, t0); got != 42 {
		t.Fatalf("first Update() = %v, want 42 (no blend against undefined prior)", got)
	}
	alpha := 0.1
	want := alpha*52 + (1-alpha)*42
	if got := s.Update(52, t0.Add(2*time.Second)); got != want {
		t.Fatalf("second Update() = %v, want %v", got, want)
	}
	if !s.LastUpdatedAt().Equal(t0.Add(2 * time.Second)) {
		t.Errorf("LastUpdatedAt() = %v", s.LastUpdatedAt())
	}
}

func TestUpdate_SeededSustainedHighCrossesOnThirdSample(t *testing.T) {
	s, err := NewSeeded(0.1, 0)
	if err != nil {
		t.Fatalf("NewSeeded() error = %v", err)
	}

	want := []float64{9, 17.1, 24.39}
	for i, w := range want {
		got := s.Update(90, t0.Add(time.Duration(i)*2*time.Second))
		if math.Abs(got-w) > 1e-9 {
			t.Fatalf("sample %d: Update() = %v, want %v", i+1, got, w)
		}
	}
}

func TestUpdate_ConstantLowNeverCrosses(t *testing.T) {
	s, _ := NewSeeded(0.1, 0)
	for i := 0; i < 200; i++ {
		if v := s.Update(5, t0); v > 21 {
			t.Fatalf("sample %d: Update() = %v, want below threshold 21", i+1, v)
		}
	}
}

// TestUpdate_MatchesRecurrenceExactly replays the EMA recurrence independently
// and requires bit-identical output, then checks the closed form.
func TestUpdate_MatchesRecurrenceExactly(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const alpha = 0.1

	s, _ := New(alpha)
	samples := make([]float64, 500)
	for i := range samples {
		samples[i] = rng.Float64() * 100
	}

	var ref float64
	for n, x := range samples {
		got := s.Update(x, t0)
		if n == 0 {
			ref = x
		} else {
			ref = alpha*x + (1-alpha)*ref
		}
		if got != ref {
			t.Fatalf("sample %d: Update() = %v, recurrence = %v", n+1, got, ref)
		}

		// Closed form: (1-a)^n x0 + sum_{k=1..n} a(1-a)^(n-k) x_k
		closed := math.Pow(1-alpha, float64(n)) * samples[0]
		for k := 1; k <= n; k++ {
			closed += alpha * math.Pow(1-alpha, float64(n-k)) * samples[k]
		}
		if math.Abs(got-closed) > 1e-9 {
			t.Fatalf("sample %d: Update() = %v, closed form = %v", n+1, got, closed)
		}
	}
}

func TestUpdate_Reproducible(t *testing.T) {
	a, _ := New(0.3)
	b, _ := New(0.3)
	for i := 0; i < 100; i++ {
		x := float64(i%17) * 3.7
		if a.Update(x, t0) != b.Update(x, t0) {
			t.Fatalf("sample %d diverged", i)
		}
	}
}

func TestUpdate_AlphaOneTracksRaw(t *testing.T) {
	s, _ := NewSeeded(1, 50)
	if got := s.Update(7, t0); got != 7 {
		t.Fatalf("Update() = %v, want 7", got)
	}
}
