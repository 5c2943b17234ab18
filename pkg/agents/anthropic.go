package agents

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"conductor/pkg/phase"
)

const defaultClaudeMaxTokens = 8192

// ClaudeInvoker calls the Anthropic Messages API.
type ClaudeInvoker struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClaudeInvoker creates a Claude-backed invoker for the given model.
func NewClaudeInvoker(apiKey, model string) *ClaudeInvoker {
	return &ClaudeInvoker{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: defaultClaudeMaxTokens,
	}
}

// Invoke implements Invoker.
func (c *ClaudeInvoker) Invoke(ctx context.Context, role phase.Role, code phase.Code, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{{
			Text: systemPrompt(role, code),
			Type: "text",
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic message call failed: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from Anthropic")
	}

	var out string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			out += block.AsText().Text
		}
	}
	if out == "" {
		return "", fmt.Errorf("no text content in Anthropic response")
	}
	return out, nil
}

// systemPrompt frames the agent's role and current phase.
func systemPrompt(role phase.Role, code phase.Code) string {
	spec, ok := phase.Lookup(code)
	if !ok {
		return fmt.Sprintf("You are the %s agent of a software delivery pipeline.", role)
	}
	return fmt.Sprintf(
		"You are the %s agent of a software delivery pipeline, producing the %s output for phase %s. Respond with the complete phase deliverable only.",
		role, spec.Name, code)
}
