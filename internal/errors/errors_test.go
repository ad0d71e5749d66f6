package errors

import (
	"fmt"
	"testing"
)

func TestPulseError_Error(t *testing.T) {
	err := &PulseError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "session not found",
	}

	expected := "NOT_FOUND: session not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("stress_level is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "stress_level is required" {
		t.Errorf("Message = %q, want %q", err.Message, "stress_level is required")
	}
}

func TestNewInvalidConfig(t *testing.T) {
	err := NewInvalidConfig("alpha", "must be in (0,1]")

	if err.Code != ErrInvalidConfig {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidConfig)
	}
	if err.Message != "invalid config alpha: must be in (0,1]" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Details["field"] != "alpha" {
		t.Errorf("Details[field] = %v, want %q", err.Details["field"], "alpha")
	}
}

func TestNewUnknownVariant(t *testing.T) {
	err := NewUnknownVariant("juggling")

	if err.Code != ErrUnknownVariant {
		t.Errorf("Code = %q, want %q", err.Code, ErrUnknownVariant)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["variant"] != "juggling" {
		t.Errorf("Details[variant] = %v, want %q", err.Details["variant"], "juggling")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("session", "01ABC")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "session not found: 01ABC" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Details["identifier"] != "01ABC" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01ABC")
	}
}

func TestNewUpstreamUnavailable(t *testing.T) {
	err := NewUpstreamUnavailable("coach", fmt.Errorf("timeout"))

	if err.Code != ErrUpstreamUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, ErrUpstreamUnavailable)
	}
	if err.Status != 503 {
		t.Errorf("Status = %d, want 503", err.Status)
	}
	if err.Message != "coach unavailable: timeout" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("database connection failed"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		// Message should be generic (not leak internal details)
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewUnknownVariant("x"), ErrUnknownVariant) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewUnknownVariant("x"), ErrNotFound) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-PulseError", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrNotFound) {
			t.Error("Is() = true, want false for non-PulseError")
		}
	})

	t.Run("wrapped PulseError", func(t *testing.T) {
		wrapped := fmt.Errorf("load config: %w", NewInvalidConfig("epsilon", "must be in [0,1]"))
		if !Is(wrapped, ErrInvalidConfig) {
			t.Error("Is() = false, want true for wrapped PulseError")
		}
		if Is(wrapped, ErrInternal) {
			t.Error("Is() = true, want false for wrong code on wrapped PulseError")
		}
	})
}
