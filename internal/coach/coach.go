// Package coach defines the coaching-text and feedback-chat collaborators
// and their offline fallbacks.
package coach

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/pulse/internal/breaks"
	"github.com/hpungsan/pulse/internal/prefs"
)

// Stress bands used as prompt context.
const (
	BandNormal    = "normal"
	BandElevated  = "elevated"
	BandQuiteHigh = "quite high"
)

// Band maps a smoothed stress level to a context band.
func Band(level float64) string {
	switch {
	case level >= 40:
		return BandQuiteHigh
	case level >= 30:
		return BandElevated
	default:
		return BandNormal
	}
}

// Request asks for a coaching message for a selected break.
type Request struct {
	StressLevel float64
	Variant     breaks.Variant
	Activity    breaks.Activity
}

// Coach produces a short suggestion message. Implementations may fail; the
// caller falls back to FailureMessage.
type Coach interface {
	Message(ctx context.Context, req Request) (string, error)
}

// Roles in a feedback chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a feedback exchange.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the chat service's answer to a feedback turn. Sentiment is
// derived from the last user message and may be SentimentNone.
type Reply struct {
	Text      string          `json:"text"`
	Sentiment prefs.Sentiment `json:"sentiment,omitempty"`
	Distress  bool            `json:"distress,omitempty"`
}

// Chat answers free-text feedback after a break.
type Chat interface {
	Reply(ctx context.Context, history []ChatMessage) (Reply, error)
}

// DefaultReply is used when the chat service produces nothing.
const DefaultReply = "Thanks for the feedback!"

// DistressResources is appended to a reply when the user's message
// indicates distress.
const DistressResources = `I'm sorry the break didn't seem to help, and it sounds like you might still be feeling distressed. Please consider reaching out to a mental health professional or someone you trust. Your feelings are valid, and support is available.

* If you are in the US, call or text 988 (Suicide & Crisis Lifeline).
* Crisis Text Line: text HOME to 741741.
* In an emergency, call your local emergency number.`

// EmptyMessage is used when the coach returns blank text.
func EmptyMessage(a breaks.Activity) string {
	return fmt.Sprintf("Maybe a quick '%s' break would feel good right now?", a.Title)
}

// FailureMessage is used when the coach call fails or times out. An
// activity without a description borrows the variant's.
func FailureMessage(v breaks.Variant, a breaks.Activity) string {
	msg := fmt.Sprintf("How about a short '%s' break to reset?", a.Title)
	d := strings.TrimSpace(a.Description)
	if d == "" {
		d = strings.TrimSpace(v.Description)
	}
	if d != "" {
		msg += " " + d
	}
	return msg
}

// WithResources appends the distress resources when r.Distress is set.
func WithResources(r Reply) string {
	if !r.Distress {
		return r.Text
	}
	return r.Text + "\n\n" + DistressResources
}

// LastUserMessage returns the content of the most recent user turn.
func LastUserMessage(history []ChatMessage) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content, true
		}
	}
	return "", false
}
