package coordinator

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/config"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider/anthropic"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider/local"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider/openai"
)

func newAnthropicClient(cfg *config.Config) provider.Client {
	return anthropic.NewClient(func(o *anthropic.Options) {
		if cfg.Anthropic.APIKey != "" {
			o.APIKey = cfg.Anthropic.APIKey
		}
		if cfg.Anthropic.Model != "" {
			o.Model = anthropicsdk.Model(cfg.Anthropic.Model)
		}
	})
}

func newOpenAIClient(cfg *config.Config) provider.Client {
	return openai.NewClient(func(o *openai.Options) {
		if cfg.OpenAI.APIKey != "" {
			o.APIKey = cfg.OpenAI.APIKey
		}
		if cfg.OpenAI.Model != "" {
			o.Model = cfg.OpenAI.Model
		}
	})
}

func newLocalClient(cfg *config.Config) provider.Client {
	return local.NewClient(func(o *local.Options) {
		if cfg.Local.BaseURL != "" {
			o.BaseURL = cfg.Local.BaseURL
		}
		if cfg.Local.Model != "" {
			o.Model = cfg.Local.Model
		}
	})
}
