package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/recall-go/internal/config"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If the embedding model matches
// any of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"gemini-1",
	"gemini-2",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Preflight checks embedding settings against the chosen vector store before
// anything is constructed, so operators get a clear error at startup rather
// than a dimension mismatch on the first query. Suspicious but workable
// settings are logged as warnings.
func Preflight(log *slog.Logger, e config.EmbeddingSettings, store config.StoreSettings) error {
	if store.Backend == "qdrant" && e.Dimensions <= 0 {
		return fmt.Errorf("embedder: qdrant collections need a fixed size; set EMBEDDING_DIMENSIONS")
	}

	if e.Model != "" && looksLikeChatModel(e.Model) {
		log.Warn("embedder: embedding model looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", e.Model),
			slog.String("hint", "use a dedicated embedding model e.g. text-embedding-004, text-embedding-3-small"),
		)
	}

	if e.Provider == "hash" {
		log.Warn("embedder: using the offline hash embedder; similarity is lexical only",
			slog.Int("dimensions", e.Dimensions),
		)
	}
	return nil
}
