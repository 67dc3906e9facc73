// Package openai provides a provider.Client backed by the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider"
)

// Options configures the OpenAI client adapter.
type Options struct {
	// Model is the chat model identifier.
	Model string
	// MaxCompletionTokens bounds completion length when the request does
	// not set one.
	MaxCompletionTokens int64
	// APIKey overrides the OPENAI_API_KEY environment variable.
	APIKey string
	// InputCostPerMTok is the USD cost per million prompt tokens.
	InputCostPerMTok float64
	// OutputCostPerMTok is the USD cost per million completion tokens.
	OutputCostPerMTok float64
}

// Client wraps the OpenAI Chat Completions API behind the provider.Client
// interface.
type Client struct {
	client *openai.Client
	opts   Options
}

// NewClient creates a new OpenAI client using the official SDK.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Client{client: &client, opts: opts}
}

// NewClientFromClient creates an adapter from an existing SDK client.
func NewClientFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
		InputCostPerMTok:    0.15,
		OutputCostPerMTok:   0.60,
	}
}

// Name returns the provider identifier used by breakers and logs.
func (c *Client) Name() string {
	return "openai/" + c.opts.Model
}

// Generate sends a single-turn chat completion and returns the completion
// text together with its actual USD cost.
func (c *Client) Generate(ctx context.Context, req provider.Request) (provider.Response, float64, error) {
	maxTokens := c.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               c.opts.Model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.Response{}, 0, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return provider.Response{}, 0, fmt.Errorf("openai returned no choices")
	}

	cost := float64(resp.Usage.PromptTokens)/1e6*c.opts.InputCostPerMTok +
		float64(resp.Usage.CompletionTokens)/1e6*c.opts.OutputCostPerMTok

	return provider.Response{
		Text:             resp.Choices[0].Message.Content,
		Provider:         c.Name(),
		Model:            c.opts.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, cost, nil
}
