package intent

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lunalabs/luna/pkg/logger"
)

const openaiDefaultModel = openai.ChatModelGPT4oMini

// OpenAIClassifier classifies intents with the OpenAI chat completions API.
type OpenAIClassifier struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewOpenAIClassifier builds a classifier from an API key. An empty model
// selects the default.
func NewOpenAIClassifier(apiKey, model string) *OpenAIClassifier {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIClassifierWithClient(&client, model)
}

// NewOpenAIClassifierWithClient injects a pre-built client for tests.
func NewOpenAIClassifierWithClient(client *openai.Client, model string) *OpenAIClassifier {
	m := openai.ChatModel(model)
	if model == "" {
		m = openaiDefaultModel
	}
	return &OpenAIClassifier{client: client, model: m}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, in Input) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt()),
			openai.UserMessage(UserPrompt(in)),
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(64),
	})
	if err != nil {
		return Unknown, fmt.Errorf("openai classification: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Unknown, fmt.Errorf("openai classification: empty choices")
	}

	result := ParseIntentReply(resp.Choices[0].Message.Content)
	logger.DebugCF("intent", "Classified via openai", map[string]any{
		"intent": result, "model": string(c.model),
	})
	return result, nil
}
