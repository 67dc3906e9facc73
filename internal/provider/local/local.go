// Package local provides a provider.Client backed by an Ollama-compatible
// local model server. Local generation is free, so every call reports zero
// cost to the budget.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider"
)

// DefaultBaseURL is the default Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// Options configures the local client adapter.
type Options struct {
	// Model is the local model name, e.g. "codellama".
	Model string
	// BaseURL is the server address.
	BaseURL string
	// HTTPClient overrides the default http.Client.
	HTTPClient *http.Client
}

// Client talks to an Ollama-compatible /api/generate endpoint.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient creates a local client with the given options.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:   "codellama",
		BaseURL: DefaultBaseURL,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{opts: opts, http: hc}
}

// Name returns the provider identifier used by breakers and logs.
func (c *Client) Name() string {
	return "local/" + c.opts.Model
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate sends a non-streaming generation request. The returned cost is
// always zero.
func (c *Client) Generate(ctx context.Context, req provider.Request) (provider.Response, float64, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.opts.Model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
	})
	if err != nil {
		return provider.Response{}, 0, fmt.Errorf("encode local request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return provider.Response{}, 0, fmt.Errorf("build local request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return provider.Response{}, 0, fmt.Errorf("local model call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.Response{}, 0, fmt.Errorf("local model returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provider.Response{}, 0, fmt.Errorf("decode local response: %w", err)
	}

	return provider.Response{
		Text:             out.Response,
		Provider:         c.Name(),
		Model:            c.opts.Model,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
	}, 0, nil
}
