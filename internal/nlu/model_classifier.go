// Model-backed intent classification: a single non-streaming call to
// an Anthropic chat-completion model, prompted to return a strict JSON
// {intent, confidence, entities} object drawn from the advertised taxonomy.

package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const modelSystemPrompt = `You classify a single customer message into exactly one intent from this closed set: greeting, purchase, scheduling, legal, technical_support, complaint, cancellation, request_human, general.

Respond with strict JSON only, no prose, no markdown fences, matching exactly:
{"intent": "<one of the labels above>", "confidence": <number between 0 and 1>, "entities": {"email": "...", "phone": "...", "date": "...", "time": "...", "money": "..."}}

Omit any entity key you did not find. Never invent a label outside the closed set.`

var validIntents = map[string]struct{}{
	IntentGreeting: {}, IntentPurchase: {}, IntentScheduling: {}, IntentLegal: {},
	IntentTechnicalSupport: {}, IntentComplaint: {}, IntentCancellation: {},
	IntentRequestHuman: {}, IntentGeneral: {},
}

// modelResponse is the strict JSON shape the model is prompted to return.
type modelResponse struct {
	Intent string `json:"intent"`
	Confidence float64 `json:"confidence"`
	Entities map[string]string `json:"entities"`
}

// ModelClassifier calls an external chat-completion model for intent
// classification. On any failure (timeout, transport error, malformed
// JSON, an intent label outside the taxonomy) it returns an error so the
// caller (FallbackClassifier) can fall back to the rule-based strategy.
type ModelClassifier struct {
	client *anthropic.Client
	model string
}

// NewModelClassifier builds a ModelClassifier bound to apiKey and model.
func NewModelClassifier(apiKey, model string) *ModelClassifier {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = string(anthropic.ModelClaudeHaiku4_5)
	}
	return &ModelClassifier{client: &client, model: model}
}

// Classify sends text to the model and parses its strict JSON reply.
func (c *ModelClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: anthropic.Model(c.model),
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: modelSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return Classification{}, fmt.Errorf("nlu: model call failed: %w", err)
	}

	raw := extractText(msg)
	parsed, err := parseModelResponse(raw)
	if err != nil {
		return Classification{}, fmt.Errorf("nlu: malformed model response: %w", err)
	}
	if _, ok := validIntents[parsed.Intent]; !ok {
		return Classification{}, fmt.Errorf("nlu: model returned unknown intent %q", parsed.Intent)
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}

	entities := ExtractEntities(text)
	for k, v := range parsed.Entities {
		if v != "" {
			entities[k] = v
		}
	}

	return Classification{
		Intent: parsed.Intent,
		Confidence: parsed.Confidence,
		Method: MethodModel,
		Entities: entities,
	}, nil
}

func extractText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String()
}

// parseModelResponse tolerates a model that wraps its JSON in a markdown
// fence despite instructions not to.
func parseModelResponse(raw string) (modelResponse, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed modelResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return modelResponse{}, err
	}
	return parsed, nil
}
