// Package embedder converts text into dense vector embeddings. Each
// implementation talks to a different backend: Gemini through the genai SDK,
// OpenAI/Azure and Ollama over plain HTTP, and a deterministic local hash
// embedder for offline use and tests.
//
// Embedders never retry. A failed call returns an *EmbeddingError and the
// caller decides whether to retry, degrade, or give up.
package embedder

import (
	"context"
	"fmt"
)

// TaskType tells the provider how the vector will be used. Providers that do
// not support task types ignore it.
type TaskType string

const (
	// TaskRetrievalQuery marks a search probe.
	TaskRetrievalQuery TaskType = "RETRIEVAL_QUERY"
	// TaskRetrievalDocument marks text being indexed.
	TaskRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
)

// Embedder converts a single text into an embedding vector.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns the embedding of text. Callers reject empty input
	// before calling.
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)
}

// EmbeddingError reports a failed embedding call: a non-success status, a
// transport failure, or a response without a usable vector.
type EmbeddingError struct {
	// Provider is the backend label (gemini, openai, azure, ollama).
	Provider string
	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int
	// Body is the provider's error message or a prefix of the raw body.
	Body string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *EmbeddingError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s embedder: HTTP %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s embedder: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s embedder: %s", e.Provider, e.Body)
	}
}

// Unwrap returns the underlying cause.
func (e *EmbeddingError) Unwrap() error { return e.Err }

// maxErrorBody caps how much of a raw error body is kept.
const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
