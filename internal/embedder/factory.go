package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/recall-go/internal/config"
)

// New constructs the Embedder selected by s, wrapped in a CachingEmbedder
// when s.CacheSize is positive. Settings are expected to have passed
// config.Settings.Validate.
func New(ctx context.Context, s config.EmbeddingSettings) (Embedder, error) {
	var (
		emb Embedder
		err error
	)

	switch s.Provider {
	case "gemini":
		emb, err = NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			BaseURL:    s.Endpoint,
		})
		if err != nil {
			return nil, err
		}

	case "openai":
		emb = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(s.Endpoint, "/"),
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		})

	case "azure":
		emb = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(s.Endpoint, "/") + "/openai",
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			Azure:      true,
			APIVersion: s.APIVersion,
		})

	case "ollama":
		emb = NewOllamaEmbedder(&OllamaConfig{
			Host:  strings.TrimRight(s.Endpoint, "/"),
			Model: s.Model,
		})

	case "hash":
		emb = NewHashEmbedder(s.Dimensions)

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: gemini, openai, azure, ollama, hash)", s.Provider)
	}

	if s.CacheSize > 0 && s.Provider != "hash" {
		return NewCachingEmbedder(emb, s.CacheSize)
	}
	return emb, nil
}
