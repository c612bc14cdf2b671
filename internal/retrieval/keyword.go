package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minKeywordRunes is the exclusive lower bound on query word length; short
// words ("the", "and", "how") carry no signal.
const minKeywordRunes = 3

// keywords lowercases query and returns its distinct words longer than
// minKeywordRunes, with surrounding punctuation trimmed.
func keywords(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if utf8.RuneCountInString(w) <= minKeywordRunes {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// searchable concatenates the fields keyword matching looks at.
func searchable(e Experience) string {
	return strings.ToLower(strings.Join([]string{
		e.Title, e.Company, e.Description, e.Situation, e.Task, e.Action, e.Result,
	}, " "))
}

// RankByKeywords scores each entry by how many query keywords occur as
// substrings of its searchable text, then returns up to topK entries in
// descending score order. Ties keep corpus order. When no entry scores
// above zero the first topK entries are returned unranked, so the fallback
// is predictable and non-empty whenever the corpus is.
func RankByKeywords(query string, corpus []Experience, topK int) []Experience {
	idx := rankIndexes(query, corpus, topK)
	out := make([]Experience, len(idx))
	for i, j := range idx {
		out[i] = corpus[j]
	}
	return out
}

// rankIndexes is RankByKeywords returning corpus positions.
func rankIndexes(query string, corpus []Experience, topK int) []int {
	topK = normaliseTopK(topK)
	if len(corpus) == 0 {
		return nil
	}

	words := keywords(query)
	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, len(corpus))
	best := 0
	for i, e := range corpus {
		text := searchable(e)
		n := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				n++
			}
		}
		ranked[i] = scored{idx: i, score: n}
		if n > best {
			best = n
		}
	}

	if best > 0 {
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.idx
	}
	return out
}

// MatchByKeywords is RankByKeywords rendered as STAR blocks.
func MatchByKeywords(query string, corpus []Experience, topK int) []string {
	ranked := RankByKeywords(query, corpus, topK)
	out := make([]string, len(ranked))
	for i, e := range ranked {
		out[i] = FormatSTAR(e)
	}
	return out
}

// KeywordRetriever is the FallbackRetriever backed by a Corpus.
type KeywordRetriever struct {
	corpus *Corpus
}

// NewKeywordRetriever returns a fallback over corpus. A nil corpus behaves
// as an empty one.
func NewKeywordRetriever(corpus *Corpus) *KeywordRetriever {
	if corpus == nil {
		corpus = NewStaticCorpus(nil)
	}
	return &KeywordRetriever{corpus: corpus}
}

// Retrieve ranks the corpus against query. It never fails. Entries without
// an ID are keyed by their corpus position in ChunkID.
func (k *KeywordRetriever) Retrieve(ctx context.Context, query string, topK int) []ExperienceChunk {
	entries := k.corpus.Entries(ctx)
	idx := rankIndexes(query, entries, topK)
	out := make([]ExperienceChunk, len(idx))
	for i, j := range idx {
		e := entries[j]
		chunkID := fmt.Sprintf("corpus_%d", e.ID)
		if e.ID == 0 {
			chunkID = fmt.Sprintf("corpus_idx_%d", j)
		}
		out[i] = ExperienceChunk{
			ChunkID:      chunkID,
			Text:         e.Description,
			ExperienceID: e.ID,
			Title:        e.Title,
			Company:      e.Company,
			TotalChunks:  1,
			StarFormat:   FormatSTAR(e),
		}
	}
	return out
}
