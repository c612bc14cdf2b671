package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, offline Embedder. It feature-hashes the
// lowercase word tokens of the input into a fixed number of signed buckets
// and L2-normalises the result, so texts sharing vocabulary land close
// together under cosine distance. Identical input always yields an
// identical vector. It needs no network and is used for tests and
// air-gapped demos.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given size.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions returns the embedding size.
func (h *HashEmbedder) Dimensions() int { return h.dimensions }

// Embed hashes text into a unit vector. Task type is ignored.
func (h *HashEmbedder) Embed(_ context.Context, text string, _ TaskType) ([]float32, error) {
	vec := make([]float32, h.dimensions)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	if !normalize(vec) {
		// No tokens (or they cancelled out): seed a pseudo-random vector from
		// the whole text so the result is still deterministic and non-zero.
		f := fnv.New64a()
		_, _ = f.Write([]byte(text))
		seed := f.Sum64()
		for i := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
		}
		normalize(vec)
	}
	return vec, nil
}

// normalize scales vec to unit length in place. It reports false for a zero vector.
func normalize(vec []float32) bool {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return false
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return true
}
