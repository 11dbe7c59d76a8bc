package llm

import (
	"context"
)

// Request is one single-turn completion. Zero Temperature and MaxTokens fall
// back to the client's configured defaults.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a JSON object when it supports that.
	JSON bool
}

type LLMClient interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Defaults are applied to requests that leave Temperature or MaxTokens unset.
type Defaults struct {
	Temperature float64
	MaxTokens   int
}

func (d Defaults) apply(req Request) Request {
	if req.Temperature == 0 {
		req.Temperature = d.Temperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = d.MaxTokens
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2048
	}
	return req
}
