package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/recall-go/internal/embedder"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

const (
	questionMarker = "Question:"
	answerMarker   = "Answer:"

	// answerPartMarker heads the answer of a chunked Q&A document.
	answerPartMarker = "Answer (part "
)

// trailerMarkers end the answer section of an ingested Q&A document.
var trailerMarkers = []string{"\n\nTags:", "\nCategory:"}

// QARetriever searches the technical_qa collection. It is best-effort:
// every failure yields an empty result and there is no fallback corpus.
type QARetriever struct {
	store    vectorstore.Store
	embedder embedder.Embedder
}

// NewQARetriever constructs a QARetriever.
func NewQARetriever(store vectorstore.Store, emb embedder.Embedder) (*QARetriever, error) {
	if store == nil {
		return nil, fmt.Errorf("retrieval: store must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	}
	return &QARetriever{store: store, embedder: emb}, nil
}

// RetrieveTechnicalQA returns up to topK pairs with distinct QA IDs. It
// never returns an error.
func (r *QARetriever) RetrieveTechnicalQA(ctx context.Context, query string, topK int) []QAPair {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	pairs, err := r.retrieve(ctx, query, normaliseTopK(topK))
	if err != nil {
		log := logging.FromContext(ctx)
		if errors.Is(err, vectorstore.ErrCollectionNotFound) || errors.Is(err, ErrEmptyCollection) {
			log.Debug("retrieval: technical Q&A collection has no data", slog.String("error", err.Error()))
		} else {
			log.Warn("retrieval: technical Q&A search failed", slog.String("error", err.Error()))
		}
		return nil
	}
	return pairs
}

func (r *QARetriever) retrieve(ctx context.Context, query string, topK int) ([]QAPair, error) {
	col, err := r.store.GetCollection(ctx, vectorstore.CollectionTechnicalQA)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	count, err := r.store.Count(ctx, col)
	if err != nil {
		return nil, fmt.Errorf("retrieval: counting technical Q&A: %w", err)
	}
	if count == 0 {
		return nil, ErrEmptyCollection
	}

	vec, err := r.embedder.Embed(ctx, query, embedder.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query: %w", err)
	}

	hits, err := r.store.Query(ctx, col, vec, min(topK*qaOverFetch, count))
	if err != nil {
		return nil, fmt.Errorf("retrieval: querying technical Q&A: %w", err)
	}

	out := make([]QAPair, 0, topK)
	seen := make(map[string]struct{}, topK)
	for _, h := range hits {
		if len(out) >= topK {
			break
		}
		if h.Metadata == nil && h.Document == "" {
			continue
		}
		meta := vectorstore.DecodeQA(h.Metadata)
		id := meta.QAID
		if id == "" {
			id = h.ID
		}
		if _, dup := seen[id]; dup {
			continue
		}

		question, answer := meta.Question, meta.Answer
		if question == "" || answer == "" {
			q, a := parseQADocument(h.Document)
			if question == "" {
				question = q
			}
			if answer == "" {
				answer = a
			}
		}
		if question == "" && answer == "" {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, QAPair{
			QAID:     id,
			Question: question,
			Answer:   answer,
			Score:    similarity(h.Distance),
		})
	}
	return out, nil
}

// parseQADocument extracts the question and answer from a document of the
// form "Question: ...\n\nAnswer: ..." or "Answer (part n): ...", dropping
// any trailing Tags and Category lines.
func parseQADocument(doc string) (question, answer string) {
	qi := strings.Index(doc, questionMarker)
	from := 0
	if qi >= 0 {
		from = qi + len(questionMarker)
	}
	ai := indexAnswerMarker(doc, from)

	if qi >= 0 {
		end := len(doc)
		if ai >= 0 {
			end = ai
		}
		question = strings.TrimSpace(doc[from:end])
	}
	if ai >= 0 {
		rest := doc[ai:]
		if colon := strings.Index(rest, ":"); colon >= 0 {
			rest = rest[colon+1:]
			for _, m := range trailerMarkers {
				if i := strings.Index(rest, m); i >= 0 {
					rest = rest[:i]
				}
			}
			answer = strings.TrimSpace(rest)
		}
	}
	return question, answer
}

// indexAnswerMarker returns the offset of the first answer marker at or
// after from that starts a line, or -1. Mid-line occurrences of the word
// belong to the question text.
func indexAnswerMarker(doc string, from int) int {
	for i := from; i < len(doc); {
		j := strings.Index(doc[i:], "Answer")
		if j < 0 {
			return -1
		}
		at := i + j
		lineStart := at == 0 || doc[at-1] == '\n'
		if lineStart && (strings.HasPrefix(doc[at:], answerMarker) || strings.HasPrefix(doc[at:], answerPartMarker)) {
			return at
		}
		i = at + len("Answer")
	}
	return -1
}
