// AnthropicLLM is the only component that sees a custom agent's resolved
// provider credential. Collapsed from streaming to a single non-streaming
// call since the Router has no incremental-display surface.

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// CredentialResolver maps a custom agent's opaque CredentialHandle to a
// concrete API key; it resolves no provider account label. Built-in agents use the
// platform's own default credential (the empty handle).
type CredentialResolver interface {
	Resolve(handle string) (apiKey string, err error)
}

// AnthropicLLM implements LLM against the Anthropic API.
type AnthropicLLM struct {
	client *anthropic.Client
	model string
	defaultKey string
	credentials CredentialResolver
}

// NewAnthropicLLM builds an adapter using defaultAPIKey for built-in
// agents; credentials resolves custom agents' per-tenant keys.
func NewAnthropicLLM(defaultAPIKey, model string, credentials CredentialResolver) *AnthropicLLM {
	client := anthropic.NewClient(option.WithAPIKey(defaultAPIKey))
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5)
	}
	return &AnthropicLLM{client: &client, model: model, defaultKey: defaultAPIKey, credentials: credentials}
}

// Respond sends the conversation window plus the agent's system prompt
// and toolbelt to the model in a single call.
func (a *AnthropicLLM) Respond(ctx context.Context, systemPrompt string, history []HistoryMessage, userMessage string, tools Toolbelt, credentialHandle string, maxOutputTokens int) (Reply, error) {
	client := a.client
	if credentialHandle != "" && a.credentials != nil {
		key, err := a.credentials.Resolve(credentialHandle)
		if err != nil {
			return Reply{}, fmt.Errorf("agent: resolving credential: %w", err)
		}
		c := anthropic.NewClient(option.WithAPIKey(key))
		client = &c
	}

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, h := range history {
		if h.Author == "" {
			continue
		}
		block := anthropic.NewTextBlock(h.Text)
		if isAgentAuthor(h.Author) {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)))

	params := anthropic.MessageNewParams{
		Model: anthropic.Model(a.model),
		MaxTokens: int64(maxOutputTokens),
		System: []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: messages,
		Tools: convertTools(tools),
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return Reply{}, fmt.Errorf("agent: anthropic call failed: %w", err)
	}

	return toReply(msg), nil
}

func isAgentAuthor(author string) bool {
	return len(author) > 6 && author[:6] == "agent:"
}

func toReply(msg *anthropic.Message) Reply {
	var reply Reply
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			reply.Text += variant.Text
		case anthropic.ToolUseBlock:
			args := make(map[string]any)
			if len(variant.Input) > 0 {
				_ = json.Unmarshal(variant.Input, &args)
			}
			reply.ToolCall = &ToolCall{Name: variant.Name, Arguments: args}
		}
	}
	return reply
}

func convertTools(tools Toolbelt) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal([]byte(t.InputSchemaJSON), &schema); err != nil {
			continue
		}
		properties, _ := schema["properties"].(map[string]any)
		var required []string
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name: t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required: required,
				},
			},
		})
	}
	return out
}
