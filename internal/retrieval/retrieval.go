// Package retrieval turns free-text queries into ranked, deduplicated
// snippets from the experience and technical Q&A collections.
//
// Experience retrieval is a two-stage strategy: a [PrimaryRetriever] backed
// by vector search, then a [FallbackRetriever] backed by keyword matching
// over a local corpus. [ExperienceRetriever] runs the stages and records the
// outcome in a [Decision] so callers and tests can see which stage served a
// result without inspecting errors.
package retrieval

import "errors"

// DefaultTopK is the number of results returned when a caller passes topK <= 0.
const DefaultTopK = 5

// Over-fetch factors applied to topK before deduplication shrinks the
// candidate set.
const (
	experienceOverFetch = 3
	qaOverFetch         = 2
)

// ErrEmptyCollection is returned by the vector stage when the collection
// exists but holds no documents.
var ErrEmptyCollection = errors.New("retrieval: collection is empty")

// ExperienceChunk is one accepted experience chunk.
type ExperienceChunk struct {
	// ChunkID is the stored document ID (e.g. "exp_3_chunk_1").
	ChunkID string
	// Text is the chunk body.
	Text string
	// ExperienceID groups chunks of the same experience.
	ExperienceID int64
	Title        string
	Company      string
	ChunkIndex   int
	TotalChunks  int
	// StarFormat is the precomputed STAR block for the whole experience.
	StarFormat string
	// Score is 1 − distance. Nil when the store reported no distance. It is
	// never clamped: values outside [0,1] expose a non-normalised metric.
	Score *float64
}

// Formatted returns the display text: the STAR block when present,
// otherwise the raw chunk text.
func (c ExperienceChunk) Formatted() string {
	if c.StarFormat != "" {
		return c.StarFormat
	}
	return c.Text
}

// QAPair is one accepted technical question/answer.
type QAPair struct {
	QAID     string
	Question string
	Answer   string
	// Score is 1 − distance, unclamped; nil when unavailable.
	Score *float64
}

// Stage names which part of the strategy produced a result.
type Stage string

const (
	// StageVector means the vector search served the result.
	StageVector Stage = "vector"
	// StageKeyword means the keyword fallback served the result.
	StageKeyword Stage = "keyword"
	// StageEmpty means the query was blank and nothing ran.
	StageEmpty Stage = "empty"
)

// Decision records how a retrieval was served.
type Decision struct {
	Stage Stage
	// Cause is the primary-stage failure that triggered the fallback.
	// Nil unless Stage is StageKeyword.
	Cause error
}

// similarity converts a distance into a score. It is deliberately not
// clamped.
func similarity(distance *float64) *float64 {
	if distance == nil {
		return nil
	}
	s := 1 - *distance
	return &s
}

func normaliseTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	return topK
}
