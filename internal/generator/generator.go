// Package generator constructs the chat model used to write interview
// answers. Every backend is exposed as an eino BaseChatModel so callers do
// not care which provider is configured.
package generator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/recall-go/internal/config"
)

// Provider names accepted by New.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderArk       = "ark"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// New constructs the chat model selected by cfg.Provider.
func New(ctx context.Context, cfg config.ModelSettings) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return newOllama(ctx, cfg)
	case ProviderOpenAI:
		return newOpenAI(ctx, cfg)
	case ProviderAzure:
		return newAzure(ctx, cfg)
	case ProviderArk:
		return newArk(ctx, cfg)
	case ProviderGemini:
		return newGemini(ctx, cfg)
	case ProviderAnthropic:
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("generator: unknown provider %q (valid: ollama, openai, azure, ark, gemini, anthropic)", cfg.Provider)
	}
}
