package coach

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	perrors "github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/prefs"
)

const defaultModel = "gemini-2.5-flash"

const coachSystemPrompt = `You are Pulse, a microbreak coach with a friendly, positive and gently encouraging personality. Your goal is to provide a brief, supportive message suggesting a specific break activity.
The user's current estimated stress level context is '%s'.
Be mindful and avoid being pushy.
Generate ONLY the coaching message itself, maximum 2 short sentences. Do NOT include greetings or sign-offs.`

const coachUserPrompt = `Suggest a '%s' break. It falls under the category '%s'. Briefly hint at how to do it: %s

Generate the coaching message:`

const feedbackSystemPrompt = `You are Pulse's feedback assistant. Briefly acknowledge the user's feedback about their recent break. Be encouraging and let them know their input is valuable. Keep responses concise (1-2 sentences).`

const sentimentSystemPrompt = `Classify the user's message about a break they just took. Answer with exactly one word:
positive, neutral, negative, or negative_distress (only when the message indicates significant emotional distress).`

// generator is the slice of the genai client used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements Coach and Chat on the Gemini API.
type Gemini struct {
	models generator
	model  string
	logger *zap.Logger
}

// NewGemini creates a Gemini-backed coach.
func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGemini(client.Models, model, logger), nil
}

func newGemini(models generator, model string, logger *zap.Logger) *Gemini {
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{models: models, model: model, logger: logger.Named("gemini")}
}

// Message asks Gemini for a coaching message. A blank answer is replaced
// with EmptyMessage; transport errors are returned as UPSTREAM_UNAVAILABLE.
func (g *Gemini) Message(ctx context.Context, req Request) (string, error) {
	category := req.Variant.Category
	if category == "" {
		category = "General"
	}

	text, err := g.generate(ctx,
		fmt.Sprintf(coachSystemPrompt, Band(req.StressLevel)),
		[]*genai.Content{genai.NewContentFromText(
			fmt.Sprintf(coachUserPrompt, req.Activity.Title, category, req.Activity.Description),
			genai.RoleUser,
		)},
		0.7, 100,
	)
	if err != nil {
		return "", perrors.NewUpstreamUnavailable("gemini", err)
	}
	if text == "" {
		return EmptyMessage(req.Activity), nil
	}
	return text, nil
}

// Reply acknowledges the feedback and classifies the last user message.
// A failed acknowledgement falls back to DefaultReply; a failed
// classification leaves the sentiment unset.
func (g *Gemini) Reply(ctx context.Context, history []ChatMessage) (Reply, error) {
	if len(history) == 0 {
		return Reply{}, perrors.NewInvalidRequest("no messages provided")
	}

	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	reply := Reply{Text: DefaultReply}
	text, err := g.generate(ctx, feedbackSystemPrompt, contents, 0.5, 50)
	switch {
	case err != nil:
		g.logger.Warn("feedback reply failed", zap.Error(err))
	case text != "":
		reply.Text = text
	}

	if last, ok := LastUserMessage(history); ok {
		reply.Sentiment, reply.Distress = g.classify(ctx, last)
	}
	return reply, nil
}

func (g *Gemini) classify(ctx context.Context, text string) (prefs.Sentiment, bool) {
	label, err := g.generate(ctx, sentimentSystemPrompt,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		0.1, 10,
	)
	if err != nil {
		g.logger.Warn("sentiment classification failed", zap.Error(err))
		return prefs.SentimentNone, false
	}
	return parseLabel(label)
}

func parseLabel(label string) (prefs.Sentiment, bool) {
	label = strings.Trim(strings.ToLower(strings.TrimSpace(label)), ".!\"'")
	switch label {
	case "negative_distress":
		return prefs.SentimentNegative, true
	case "positive":
		return prefs.SentimentPositive, false
	case "neutral":
		return prefs.SentimentNeutral, false
	case "negative":
		return prefs.SentimentNegative, false
	}
	return prefs.SentimentNone, false
}

func (g *Gemini) generate(ctx context.Context, system string, contents []*genai.Content, temperature float32, maxTokens int32) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(temperature),
		MaxOutputTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text()), nil
}
