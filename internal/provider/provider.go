// Package provider routes backend execution requests across LLM providers.
// Each provider sits behind a circuit breaker; the router walks an ordered
// fallback chain for the budget-derived tier and reports actual spend back
// to the budget controller.
package provider

import "context"

// Request is the normalized input for a single generation call.
type Request struct {
	// Prompt is the user-facing input text.
	Prompt string `json:"prompt"`
	// System is the optional system instruction.
	System string `json:"system,omitempty"`
	// MaxTokens bounds the completion length; zero selects the provider
	// default.
	MaxTokens int64 `json:"max_tokens,omitempty"`
	// Temperature controls sampling; zero selects the provider default.
	Temperature float64 `json:"temperature,omitempty"`
}

// Response is the result of a generation call.
type Response struct {
	// Text is the completion.
	Text string `json:"text"`
	// Provider names the backend that produced the completion.
	Provider string `json:"provider"`
	// Model names the concrete model used.
	Model string `json:"model"`
	// PromptTokens and CompletionTokens report usage for cost accounting.
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Client is the capability a backend must expose to be routable. The
// returned cost is the actual dollar spend of the call, reported to the
// budget controller on success.
type Client interface {
	// Name returns the stable provider identifier used for breaker state
	// and chain configuration.
	Name() string

	// Generate performs one completion call.
	Generate(ctx context.Context, req Request) (Response, float64, error)
}
