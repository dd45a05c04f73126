package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lunalabs/luna/pkg/logger"
)

const anthropicDefaultModel = "claude-3-5-haiku-latest"

// AnthropicClassifier classifies intents with the Anthropic Messages API.
// Classification is a cheap, low-temperature call; the small default model
// is deliberate.
type AnthropicClassifier struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClassifier builds a classifier from an API key. An empty
// model selects the default.
func NewAnthropicClassifier(apiKey, model string) *AnthropicClassifier {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClassifierWithClient(&client, model)
}

// NewAnthropicClassifierWithClient injects a pre-built client, which is how
// tests swap in a stub transport.
func NewAnthropicClassifierWithClient(client *anthropic.Client, model string) *AnthropicClassifier {
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicClassifier{client: client, model: model}
}

func (c *AnthropicClassifier) Classify(ctx context.Context, in Input) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 64,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(UserPrompt(in))),
		},
		Temperature: anthropic.Float(0.2),
	})
	if err != nil {
		return Unknown, fmt.Errorf("anthropic classification: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	result := ParseIntentReply(sb.String())
	logger.DebugCF("intent", "Classified via anthropic", map[string]any{
		"intent": result, "model": c.model,
	})
	return result, nil
}
