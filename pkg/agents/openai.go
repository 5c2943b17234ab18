package agents

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"conductor/pkg/phase"
)

const defaultOpenAIMaxTokens = 8192

// OpenAIInvoker calls the OpenAI Responses API.
type OpenAIInvoker struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewOpenAIInvoker creates an OpenAI-backed invoker for the given model.
func NewOpenAIInvoker(apiKey, model string) *OpenAIInvoker {
	return &OpenAIInvoker{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: defaultOpenAIMaxTokens,
	}
}

// Invoke implements Invoker.
func (o *OpenAIInvoker) Invoke(ctx context.Context, role phase.Role, code phase.Code, prompt string) (string, error) {
	input := fmt.Sprintf("System: %s\n\n%s", systemPrompt(role, code), prompt)

	resp, err := o.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(o.maxTokens),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	})
	if err != nil {
		return "", fmt.Errorf("openai responses call failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty response from OpenAI")
	}

	out := resp.OutputText()
	if out == "" {
		return "", fmt.Errorf("no text content in OpenAI response")
	}
	return out, nil
}
