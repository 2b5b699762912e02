// Package llm provides the model collaborators used by the question pipeline:
// OpenAI-compatible and Anthropic chat clients, structured error classification,
// JSON extraction from free text, a circuit breaker and a warm-up loader.
package llm

import (
	"context"
)

// LLMClient is a single-turn text generation collaborator. It takes a system
// instruction and user content and returns free text.
type LLMClient interface {
	// GenerateResponse generates a chat completion response.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Warmer is implemented by clients that can check the model is reachable and loaded.
type Warmer interface {
	WarmUp(ctx context.Context) error
}

// GenerateResponseResult is the text of a completion plus token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Ensure Client implements LLMClient at compile time.
var (
	_ LLMClient = (*Client)(nil)
	_ Warmer    = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ Warmer    = (*AnthropicClient)(nil)
)
