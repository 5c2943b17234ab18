package agents

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"conductor/pkg/phase"
)

// OllamaInvoker calls a local Ollama runtime, for offline or open-model runs.
type OllamaInvoker struct {
	client *api.Client
	model  string
}

// NewOllamaInvoker creates an invoker against the given Ollama server URL
// (e.g. "http://localhost:11434").
func NewOllamaInvoker(hostURL, model string) *OllamaInvoker {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaInvoker{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Invoke implements Invoker.
func (o *OllamaInvoker) Invoke(ctx context.Context, role phase.Role, code phase.Code, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt(role, code)},
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
	}

	var content string
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat call failed: %w", err)
	}
	if content == "" {
		return "", fmt.Errorf("empty response from Ollama model %s", o.model)
	}
	return content, nil
}
