package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/recall-go/internal/embedder"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

// PrimaryRetriever is the first stage of experience retrieval. Any error
// hands the query to the FallbackRetriever.
type PrimaryRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]ExperienceChunk, error)
}

// FallbackRetriever is the second stage. It must not fail.
type FallbackRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) []ExperienceChunk
}

// VectorRetriever is the PrimaryRetriever backed by the experience_store
// collection.
type VectorRetriever struct {
	store    vectorstore.Store
	embedder embedder.Embedder
}

// NewVectorRetriever constructs a VectorRetriever.
func NewVectorRetriever(store vectorstore.Store, emb embedder.Embedder) (*VectorRetriever, error) {
	if store == nil {
		return nil, fmt.Errorf("retrieval: store must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	}
	return &VectorRetriever{store: store, embedder: emb}, nil
}

// Retrieve embeds query, over-fetches topK*3 neighbours, and keeps the
// closest chunk of each experience until topK experiences are accepted.
// Embedding, missing-collection, empty-collection, and store errors are all
// returned so the caller can fall back.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]ExperienceChunk, error) {
	topK = normaliseTopK(topK)

	vec, err := r.embedder.Embed(ctx, query, embedder.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query: %w", err)
	}

	col, err := r.store.GetCollection(ctx, vectorstore.CollectionExperiences)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	count, err := r.store.Count(ctx, col)
	if err != nil {
		return nil, fmt.Errorf("retrieval: counting experiences: %w", err)
	}
	if count == 0 {
		return nil, ErrEmptyCollection
	}

	n := min(topK*experienceOverFetch, count)
	hits, err := r.store.Query(ctx, col, vec, n)
	if err != nil {
		return nil, fmt.Errorf("retrieval: querying experiences: %w", err)
	}

	out := make([]ExperienceChunk, 0, topK)
	seen := make(map[int64]struct{}, topK)
	for _, h := range hits {
		if len(out) >= topK {
			break
		}
		if h.Metadata == nil || h.Document == "" {
			continue
		}
		meta, ok := vectorstore.DecodeExperience(h.Metadata)
		if !ok {
			continue
		}
		if _, dup := seen[meta.ExperienceID]; dup {
			continue
		}
		seen[meta.ExperienceID] = struct{}{}
		out = append(out, ExperienceChunk{
			ChunkID:      h.ID,
			Text:         h.Document,
			ExperienceID: meta.ExperienceID,
			Title:        meta.Title,
			Company:      meta.Company,
			ChunkIndex:   meta.ChunkIndex,
			TotalChunks:  meta.TotalChunks,
			StarFormat:   meta.StarFormat,
			Score:        similarity(h.Distance),
		})
	}
	return out, nil
}

// Result is the outcome of an experience retrieval.
type Result struct {
	Chunks   []ExperienceChunk
	Decision Decision
}

// ExperienceRetriever runs the primary stage and, on any failure, the
// fallback stage. It never returns an error.
type ExperienceRetriever struct {
	primary  PrimaryRetriever
	fallback FallbackRetriever
}

// NewExperienceRetriever wires the two stages. A nil fallback is replaced
// with an empty keyword retriever.
func NewExperienceRetriever(primary PrimaryRetriever, fallback FallbackRetriever) *ExperienceRetriever {
	if fallback == nil {
		fallback = NewKeywordRetriever(nil)
	}
	return &ExperienceRetriever{primary: primary, fallback: fallback}
}

// Retrieve returns up to topK experiences and the Decision describing which stage served them. A blank query
// returns immediately with StageEmpty and touches neither stage.
func (r *ExperienceRetriever) Retrieve(ctx context.Context, query string, topK int) Result {
	if strings.TrimSpace(query) == "" {
		return Result{Decision: Decision{Stage: StageEmpty}}
	}
	topK = normaliseTopK(topK)

	if r.primary != nil {
		chunks, err := r.primary.Retrieve(ctx, query, topK)
		if err == nil {
			return Result{Chunks: chunks, Decision: Decision{Stage: StageVector}}
		}
		logging.FromContext(ctx).Warn("retrieval: vector search failed, falling back to keyword matching",
			slog.String("error", err.Error()),
		)
		return Result{Chunks: limit(r.fallback.Retrieve(ctx, query, topK), topK), Decision: Decision{Stage: StageKeyword, Cause: err}}
	}

	return Result{
		Chunks:   limit(r.fallback.Retrieve(ctx, query, topK), topK),
		Decision: Decision{Stage: StageKeyword, Cause: fmt.Errorf("retrieval: no primary retriever configured")},
	}
}

// RetrieveExperienceChunks returns the structured result.
func (r *ExperienceRetriever) RetrieveExperienceChunks(ctx context.Context, query string, topK int) []ExperienceChunk {
	return r.Retrieve(ctx, query, topK).Chunks
}

// RetrieveExperiences returns formatted snippets.
func (r *ExperienceRetriever) RetrieveExperiences(ctx context.Context, query string, topK int) []string {
	chunks := r.Retrieve(ctx, query, topK).Chunks
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Formatted()
	}
	return out
}

// limit bounds fallback output to topK. Keyword results are returned as the
// matcher ranked them: corpus entries often carry no ID, so they cannot be
// deduplicated by ExperienceID.
func limit(chunks []ExperienceChunk, topK int) []ExperienceChunk {
	if len(chunks) > topK {
		return chunks[:topK]
	}
	return chunks
}
