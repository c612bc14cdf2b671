//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration performs a real HTTP call to a locally running
// Ollama instance to validate the embedder end-to-end.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	emb := NewOllamaEmbedder(&OllamaConfig{
		Host:  host,
		Model: model,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := emb.Embed(ctx, "Led the migration of a monolith to event-driven services.", TaskRetrievalDocument)
	if err != nil {
		t.Fatalf("Embed() failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
	}
	b, err := emb.Embed(ctx, "Tuned PostgreSQL indexes to cut p99 latency.", TaskRetrievalDocument)
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	if len(a) == 0 || len(b) == 0 {
		t.Fatal("empty embedding")
	}
	if len(a) == len(b) {
		identical := true
		for j := range a {
			if a[j] != b[j] {
				identical = false
				break
			}
		}
		if identical {
			t.Error("distinct texts produced identical vectors; model may not be working correctly")
		}
	}

	// Log the dimension so the caller can confirm it matches their vector store.
	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d)", model, len(a), len(a))
}
