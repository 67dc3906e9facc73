// Package anthropic provides a provider.Client backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider"
)

// Options configures the Anthropic client adapter.
type Options struct {
	// Model is the Anthropic model identifier.
	Model anthropic.Model
	// MaxTokens bounds completion length when the request does not set one.
	MaxTokens int64
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// InputCostPerMTok is the USD cost per million prompt tokens.
	InputCostPerMTok float64
	// OutputCostPerMTok is the USD cost per million completion tokens.
	OutputCostPerMTok float64
}

// Client wraps the Anthropic Messages API behind the provider.Client
// interface.
type Client struct {
	client *anthropic.Client
	opts   Options
}

// NewClient creates a new Anthropic client using the official SDK.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:             anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens:         4096,
		InputCostPerMTok:  3.0,
		OutputCostPerMTok: 15.0,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Client{client: &client, opts: opts}
}

// NewClientFromClient creates an adapter from an existing SDK client.
func NewClientFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:             anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens:         4096,
		InputCostPerMTok:  3.0,
		OutputCostPerMTok: 15.0,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

// Name returns the provider identifier used by breakers and logs.
func (c *Client) Name() string {
	return "anthropic/" + string(c.opts.Model)
}

// Generate sends a single-turn message and returns the completion text
// together with its actual USD cost.
func (c *Client) Generate(ctx context.Context, req provider.Request) (provider.Response, float64, error) {
	maxTokens := c.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     c.opts.Model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return provider.Response{}, 0, fmt.Errorf("anthropic api error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	cost := float64(resp.Usage.InputTokens)/1e6*c.opts.InputCostPerMTok +
		float64(resp.Usage.OutputTokens)/1e6*c.opts.OutputCostPerMTok

	return provider.Response{
		Text:             text,
		Provider:         c.Name(),
		Model:            string(c.opts.Model),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, cost, nil
}
