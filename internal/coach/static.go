package coach

import (
	"context"
	"strings"

	"github.com/hpungsan/pulse/internal/prefs"
)

// Static is the offline coach and chat. It never fails.
type Static struct{}

// Message returns the fallback suggestion for the request's activity.
func (Static) Message(_ context.Context, req Request) (string, error) {
	return FailureMessage(req.Variant, req.Activity), nil
}

// Reply acknowledges feedback and tags sentiment with a small word list.
func (Static) Reply(_ context.Context, history []ChatMessage) (Reply, error) {
	text, ok := LastUserMessage(history)
	if !ok {
		return Reply{Text: DefaultReply}, nil
	}
	sentiment, distress := classifyWords(text)
	return Reply{Text: DefaultReply, Sentiment: sentiment, Distress: distress}, nil
}

var (
	positiveWords = []string{"great", "good", "better", "nice", "relaxed", "calm", "helped", "love", "loved", "refreshing", "awesome"}
	negativeWords = []string{"bad", "worse", "boring", "annoying", "confusing", "hate", "didn't help", "did not help", "useless", "stressful"}
	distressWords = []string{"hopeless", "can't cope", "cannot cope", "overwhelmed", "panic", "want to die", "hurt myself", "give up"}
)

func classifyWords(text string) (prefs.Sentiment, bool) {
	t := strings.ToLower(text)
	for _, w := range distressWords {
		if strings.Contains(t, w) {
			return prefs.SentimentNegative, true
		}
	}

	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(t, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(t, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return prefs.SentimentPositive, false
	case neg > pos:
		return prefs.SentimentNegative, false
	case pos > 0:
		return prefs.SentimentNeutral, false
	}
	return prefs.SentimentNone, false
}
