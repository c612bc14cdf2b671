// Package responsecache is a semantic cache of generated interview answers.
// Answers are keyed by the embedding of the question that produced them and
// scoped by interview round and profile. A lookup hits when a stored
// question is similar enough to the incoming one.
//
// The cache lives in the response_store collection. The collection is
// created on the first Store and is never dropped; Clear only removes
// documents.
package responsecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/54b3r/recall-go/internal/embedder"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

const (
	// DefaultThreshold is the minimum similarity for a hit when the caller
	// does not supply one.
	DefaultThreshold = 0.85

	// candidates is the number of nearest neighbours considered per lookup.
	candidates = 10

	// maxStoredQuestion bounds the question text kept in metadata.
	maxStoredQuestion = 500

	// questionTask embeds questions on both the store and the lookup path,
	// so an identical question is always self-similar.
	questionTask = embedder.TaskRetrievalDocument
)

// StoreOptions scopes a stored answer. Zero values take the defaults:
// mode "qa", round 1, timestamp now, profile "" (unscoped).
type StoreOptions struct {
	Mode      string
	Round     int
	ProfileID string
	// Timestamp is epoch milliseconds.
	Timestamp int64
}

// LookupOptions narrows a lookup. A nil Round matches every round; an
// empty ProfileID matches every profile.
type LookupOptions struct {
	Threshold float64
	Round     *int
	ProfileID string
}

// ClearFilter selects the documents Clear removes. Nil fields match
// everything for that dimension. A ProfileID pointing at "" selects only
// unscoped answers.
type ClearFilter struct {
	ProfileID *string
	Round     *int
}

// Hit is a cache hit.
type Hit struct {
	ID             string
	Answer         string
	Similarity     float64
	StoredQuestion string
	Round          int
	ProfileID      string
}

// Cache reads and writes the response_store collection.
type Cache struct {
	store    vectorstore.Store
	embedder embedder.Embedder
	now      func() time.Time
	newID    func() (uuid.UUID, error)
}

// New constructs a Cache.
func New(store vectorstore.Store, emb embedder.Embedder) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("responsecache: store must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("responsecache: embedder must not be nil")
	}
	return &Cache{store: store, embedder: emb, now: time.Now, newID: uuid.NewV7}, nil
}

// Store embeds question and writes answer under a fresh UUIDv7 id. It
// returns the id. Embedding and store failures are returned; callers
// usually log them and carry on.
func (c *Cache) Store(ctx context.Context, question, answer string, opts StoreOptions) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("responsecache: question must not be empty")
	}

	vec, err := c.embedder.Embed(ctx, question, questionTask)
	if err != nil {
		return "", fmt.Errorf("responsecache: embedding question: %w", err)
	}

	col, err := c.store.EnsureCollection(ctx, vectorstore.CollectionResponses)
	if err != nil {
		return "", fmt.Errorf("responsecache: %w", err)
	}

	id, err := c.newID()
	if err != nil {
		return "", fmt.Errorf("responsecache: generating id: %w", err)
	}

	meta := vectorstore.ResponseMeta{
		Question:       truncateRunes(question, maxStoredQuestion),
		AnswerLength:   utf8.RuneCountInString(answer),
		InterviewMode:  opts.Mode,
		InterviewRound: opts.Round,
		Timestamp:      opts.Timestamp,
		ProfileID:      opts.ProfileID,
	}
	if meta.InterviewMode == "" {
		meta.InterviewMode = vectorstore.DefaultInterviewMode
	}
	if meta.InterviewRound <= 0 {
		meta.InterviewRound = vectorstore.DefaultInterviewRound
	}
	if meta.Timestamp == 0 {
		meta.Timestamp = c.now().UnixMilli()
	}

	rec := vectorstore.Record{
		ID:        id.String(),
		Embedding: vec,
		Document:  answer,
		Metadata:  meta.Encode(),
	}
	if err := c.store.Add(ctx, col, rec); err != nil {
		return "", fmt.Errorf("responsecache: storing response: %w", err)
	}

	logging.FromContext(ctx).Debug("responsecache: stored",
		slog.String("id", rec.ID),
		slog.Int("round", meta.InterviewRound),
		slog.Bool("scoped", meta.ProfileID != ""),
	)
	return rec.ID, nil
}

// Lookup returns the most similar stored answer whose similarity is at
// least the threshold and whose metadata matches the filters, or nil.
// An absent or empty collection and an embedding failure are misses, not
// errors. Store failures after the collection is found are also reported
// as misses; the returned error is reserved for invalid options.
func (c *Cache) Lookup(ctx context.Context, question string, opts LookupOptions) (*Hit, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("responsecache: threshold %v out of range (0,1]", threshold)
	}
	if strings.TrimSpace(question) == "" {
		return nil, nil
	}
	log := logging.FromContext(ctx)

	col, err := c.store.GetCollection(ctx, vectorstore.CollectionResponses)
	if err != nil {
		if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			log.Warn("responsecache: lookup skipped", slog.String("error", err.Error()))
		}
		return nil, nil
	}
	count, err := c.store.Count(ctx, col)
	if err != nil {
		log.Warn("responsecache: lookup skipped", slog.String("error", err.Error()))
		return nil, nil
	}
	if count == 0 {
		return nil, nil
	}

	vec, err := c.embedder.Embed(ctx, question, questionTask)
	if err != nil {
		log.Warn("responsecache: embedding failed, treating as miss", slog.String("error", err.Error()))
		return nil, nil
	}

	hits, err := c.store.Query(ctx, col, vec, min(candidates, count))
	if err != nil {
		log.Warn("responsecache: query failed, treating as miss", slog.String("error", err.Error()))
		return nil, nil
	}

	var best *Hit
	for _, h := range hits {
		if h.Distance == nil {
			continue
		}
		meta := vectorstore.DecodeResponse(h.Metadata)
		if opts.Round != nil && meta.InterviewRound != *opts.Round {
			continue
		}
		if opts.ProfileID != "" && meta.ProfileID != opts.ProfileID {
			continue
		}
		sim := 1 - *h.Distance
		if sim < threshold {
			continue
		}
		// Strictly greater: the first of equal candidates wins.
		if best == nil || sim > best.Similarity {
			best = &Hit{
				ID:             h.ID,
				Answer:         h.Document,
				Similarity:     sim,
				StoredQuestion: meta.Question,
				Round:          meta.InterviewRound,
				ProfileID:      meta.ProfileID,
			}
		}
	}

	if best == nil {
		log.Debug("responsecache: miss", slog.Int("candidates", len(hits)))
		return nil, nil
	}
	log.Debug("responsecache: hit", slog.String("id", best.ID), slog.Float64("similarity", best.Similarity))
	return best, nil
}

// Clear deletes every document matching all of the filter's fields and
// returns how many were removed. An absent collection clears nothing.
func (c *Cache) Clear(ctx context.Context, f ClearFilter) (int, error) {
	col, err := c.store.GetCollection(ctx, vectorstore.CollectionResponses)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("responsecache: %w", err)
	}

	snap, err := c.store.GetAll(ctx, col)
	if err != nil {
		return 0, fmt.Errorf("responsecache: listing responses: %w", err)
	}

	var ids []string
	for i, id := range snap.IDs {
		var md vectorstore.Metadata
		if i < len(snap.Metadatas) {
			md = snap.Metadatas[i]
		}
		if f.matches(vectorstore.DecodeResponse(md)) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := c.store.DeleteByIDs(ctx, col, ids); err != nil {
		return 0, fmt.Errorf("responsecache: deleting responses: %w", err)
	}
	logging.FromContext(ctx).Info("responsecache: cleared", slog.Int("deleted", len(ids)))
	return len(ids), nil
}

func (f ClearFilter) matches(m vectorstore.ResponseMeta) bool {
	if f.ProfileID != nil && m.ProfileID != *f.ProfileID {
		return false
	}
	if f.Round != nil && m.InterviewRound != *f.Round {
		return false
	}
	return true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
