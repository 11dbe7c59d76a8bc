package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

type OllamaClient struct {
	client   *api.Client
	model    string
	defaults Defaults
}

func NewOllamaClient(model string, baseURL string, defaults Defaults) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", baseURL, err)
	}
	return &OllamaClient{
		client:   api.NewClient(u, http.DefaultClient),
		model:    model,
		defaults: defaults,
	}, nil
}

func (c *OllamaClient) Complete(ctx context.Context, r Request) (string, error) {
	r = c.defaults.apply(r)

	messages := make([]api.Message, 0, 2)
	if r.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: r.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: r.Prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": r.Temperature,
			"num_predict": r.MaxTokens,
		},
	}
	if r.JSON {
		req.Format = json.RawMessage(`"json"`)
	}

	var content string
	err := c.client.Chat(ctx, req, func(cr api.ChatResponse) error {
		content += cr.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama completion failed: %w", err)
	}
	if content == "" {
		return "", fmt.Errorf("no response content")
	}
	return content, nil
}
