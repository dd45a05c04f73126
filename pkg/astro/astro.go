// Package astro provides the production collaborators behind the workflow
// steps: a language-model extractor for profile details, a kundli generator
// with deterministic sun-sign computation, and a profile-grounded Q&A
// responder. Everything model-facing degrades to a safe value; a flaky LLM
// must never strand a profile-creation flow.
package astro

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultModel = "claude-3-5-haiku-latest"

// Client wraps the Anthropic client with the completion shape every
// collaborator here uses: one system prompt, one user prompt, text out.
type Client struct {
	client *anthropic.Client
	model  string
}

func NewClient(apiKey, model string) *Client {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewClientWith(&c, model)
}

// NewClientWith injects a pre-built client, which is how tests swap in a
// stub transport.
func NewClientWith(client *anthropic.Client, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{client: client, model: model}
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		Temperature: anthropic.Float(0.3),
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

// decodeJSONReply unmarshals the first JSON object embedded in a model
// reply into dst. Models wrap JSON in prose and code fences; everything
// outside the outermost braces is ignored.
func decodeJSONReply(reply string, dst any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in reply")
	}
	return json.Unmarshal([]byte(reply[start:end+1]), dst)
}
