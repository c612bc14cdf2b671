package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/54b3r/recall-go/internal/embedder"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

// countingEmbedder wraps the hash embedder and records calls.
type countingEmbedder struct {
	inner embedder.Embedder
	calls atomic.Int64
	err   error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: embedder.NewHashEmbedder(64)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, task embedder.TaskType) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Embed(ctx, text, task)
}

// faultyStore overrides selected Store methods on top of a real backend.
type faultyStore struct {
	vectorstore.Store
	queryErr error
	getErr   error
}

func (f *faultyStore) GetCollection(ctx context.Context, name string) (vectorstore.Collection, error) {
	if f.getErr != nil {
		return vectorstore.Collection{}, f.getErr
	}
	return f.Store.GetCollection(ctx, name)
}

func (f *faultyStore) Query(ctx context.Context, c vectorstore.Collection, v []float32, k int) ([]vectorstore.Hit, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.Query(ctx, c, v, k)
}

func openStore(t *testing.T) vectorstore.Store {
	t.Helper()
	s, err := vectorstore.OpenSQLite(":memory:", vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedExperiences writes chunksPer chunks for each of n experiences.
func seedExperiences(t *testing.T, s vectorstore.Store, emb embedder.Embedder, n, chunksPer int) {
	t.Helper()
	ctx := context.Background()
	col, err := s.EnsureCollection(ctx, vectorstore.CollectionExperiences)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for e := 1; e <= n; e++ {
		for c := 0; c < chunksPer; c++ {
			doc := fmt.Sprintf("Title: kubernetes migration %d\nchunk %d about cluster upgrades", e, c)
			vec, err := emb.Embed(ctx, doc, embedder.TaskRetrievalDocument)
			if err != nil {
				t.Fatalf("embed: %v", err)
			}
			meta := vectorstore.ExperienceMeta{
				ExperienceID: int64(e),
				Title:        fmt.Sprintf("Migration %d", e),
				Company:      "Acme",
				ChunkIndex:   c,
				TotalChunks:  chunksPer,
				StarFormat:   fmt.Sprintf("EXPERIENCE %d - Migration %d:", e, e),
			}.Encode()
			rec := vectorstore.Record{ID: fmt.Sprintf("exp_%d_chunk_%d", e, c), Embedding: vec, Document: doc, Metadata: meta}
			if err := s.Add(ctx, col, rec); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
	}
}

func testCorpus() *Corpus {
	return NewStaticCorpus([]Experience{
		{ID: 1, Title: "A", Description: "database tuning", Situation: "slow queries"},
		{ID: 2, Title: "B", Description: "network routing", Situation: "packet loss"},
	})
}

func newExperienceRetriever(t *testing.T, s vectorstore.Store, emb embedder.Embedder) *ExperienceRetriever {
	t.Helper()
	primary, err := NewVectorRetriever(s, emb)
	if err != nil {
		t.Fatalf("NewVectorRetriever: %v", err)
	}
	return NewExperienceRetriever(primary, NewKeywordRetriever(testCorpus()))
}

func Test_Experience_DistinctAndBounded(t *testing.T) {
	t.Parallel()
	emb := newCountingEmbedder()
	s := openStore(t)
	seedExperiences(t, s, emb, 4, 3)
	r := newExperienceRetriever(t, s, emb)

	for _, k := range []int{1, 2, 3, 4, 10} {
		res := r.Retrieve(context.Background(), "kubernetes cluster upgrades", k)
		if res.Decision.Stage != StageVector {
			t.Fatalf("k=%d: want vector stage, got %s (%v)", k, res.Decision.Stage, res.Decision.Cause)
		}
		if len(res.Chunks) > k {
			t.Errorf("k=%d: got %d chunks", k, len(res.Chunks))
		}
		seen := map[int64]bool{}
		for _, c := range res.Chunks {
			if seen[c.ExperienceID] {
				t.Errorf("k=%d: duplicate experience %d", k, c.ExperienceID)
			}
			seen[c.ExperienceID] = true
			if c.Score == nil {
				t.Errorf("k=%d: chunk %s missing score", k, c.ChunkID)
			}
		}
	}
	// 4 distinct experiences exist, so k=3 must be filled despite 3 chunks each.
	if got := len(r.RetrieveExperienceChunks(context.Background(), "kubernetes", 3)); got != 3 {
		t.Errorf("want 3 chunks, got %d", got)
	}
}

func Test_Experience_EmptyQuerySkipsEmbedder(t *testing.T) {
	t.Parallel()
	emb := newCountingEmbedder()
	r := newExperienceRetriever(t, openStore(t), emb)

	for _, q := range []string{"", "   ", "\n\t"} {
		res := r.Retrieve(context.Background(), q, 5)
		if len(res.Chunks) != 0 {
			t.Errorf("query %q: want no chunks, got %d", q, len(res.Chunks))
		}
		if res.Decision.Stage != StageEmpty {
			t.Errorf("query %q: want empty stage, got %s", q, res.Decision.Stage)
		}
	}
	if got := r.RetrieveExperiences(context.Background(), "", 5); len(got) != 0 {
		t.Errorf("want empty, got %v", got)
	}
	if n := emb.calls.Load(); n != 0 {
		t.Errorf("embedder called %d times", n)
	}
}

func Test_Experience_StoreUnreachableFallsBack(t *testing.T) {
	t.Parallel()
	emb := newCountingEmbedder()
	base := openStore(t)
	seedExperiences(t, base, emb, 2, 1)
	down := fmt.Errorf("vectorstore: query: %w: connection refused", vectorstore.ErrUnavailable)
	r := newExperienceRetriever(t, &faultyStore{Store: base, queryErr: down}, emb)

	res := r.Retrieve(context.Background(), "database performance tuning issue", 5)
	if res.Decision.Stage != StageKeyword {
		t.Fatalf("want keyword stage, got %s", res.Decision.Stage)
	}
	if !errors.Is(res.Decision.Cause, vectorstore.ErrUnavailable) {
		t.Errorf("cause should wrap ErrUnavailable, got %v", res.Decision.Cause)
	}
	want := MatchByKeywords("database performance tuning issue", testCorpus().Entries(context.Background()), 5)
	got := r.RetrieveExperiences(context.Background(), "database performance tuning issue", 5)
	if len(got) != len(want) {
		t.Fatalf("want %d results, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result %d:\nwant %q\ngot  %q", i, want[i], got[i])
		}
	}
}

func Test_Experience_FallbackTriggers(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		setup func(t *testing.T) (vectorstore.Store, embedder.Embedder)
		cause error
	}{
		{
			name: "missing collection",
			setup: func(t *testing.T) (vectorstore.Store, embedder.Embedder) {
				return openStore(t), newCountingEmbedder()
			},
			cause: vectorstore.ErrCollectionNotFound,
		},
		{
			name: "empty collection",
			setup: func(t *testing.T) (vectorstore.Store, embedder.Embedder) {
				s := openStore(t)
				if _, err := s.EnsureCollection(context.Background(), vectorstore.CollectionExperiences); err != nil {
					t.Fatalf("ensure: %v", err)
				}
				return s, newCountingEmbedder()
			},
			cause: ErrEmptyCollection,
		},
		{
			name: "embedding failure",
			setup: func(t *testing.T) (vectorstore.Store, embedder.Embedder) {
				emb := newCountingEmbedder()
				emb.err = &embedder.EmbeddingError{Provider: "gemini", StatusCode: 503, Body: "overloaded"}
				return openStore(t), emb
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, emb := tc.setup(t)
			res := newExperienceRetriever(t, s, emb).Retrieve(context.Background(), "network routing", 5)
			if res.Decision.Stage != StageKeyword {
				t.Fatalf("want keyword stage, got %s", res.Decision.Stage)
			}
			if tc.cause != nil && !errors.Is(res.Decision.Cause, tc.cause) {
				t.Errorf("want cause %v, got %v", tc.cause, res.Decision.Cause)
			}
			if len(res.Chunks) == 0 || res.Chunks[0].Title != "B" {
				t.Errorf("want B first from keyword fallback, got %+v", res.Chunks)
			}
		})
	}
}

func Test_Experience_SkipsIncompleteHits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := newCountingEmbedder()
	s := openStore(t)
	col, err := s.EnsureCollection(ctx, vectorstore.CollectionExperiences)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	vec, _ := emb.Embed(ctx, "incident response", embedder.TaskRetrievalDocument)
	records := []vectorstore.Record{
		{ID: "no_meta", Embedding: vec, Document: "incident response"},
		{ID: "no_doc", Embedding: vec, Metadata: vectorstore.ExperienceMeta{ExperienceID: 1}.Encode()},
		{ID: "no_id", Embedding: vec, Document: "incident response", Metadata: vectorstore.Metadata{"title": "x"}},
		{ID: "ok", Embedding: vec, Document: "incident response", Metadata: vectorstore.ExperienceMeta{ExperienceID: 9, Title: "On-call"}.Encode()},
	}
	if err := s.Add(ctx, col, records...); err != nil {
		t.Fatalf("add: %v", err)
	}

	chunks := newExperienceRetriever(t, s, emb).RetrieveExperienceChunks(ctx, "incident response", 5)
	if len(chunks) != 1 || chunks[0].ChunkID != "ok" {
		t.Fatalf("want only the complete hit, got %+v", chunks)
	}
	// No star format stored: the formatted output is the raw text.
	if got := chunks[0].Formatted(); got != "incident response" {
		t.Errorf("Formatted() = %q", got)
	}
}

func Test_Experience_NilPrimaryUsesFallback(t *testing.T) {
	t.Parallel()
	r := NewExperienceRetriever(nil, NewKeywordRetriever(testCorpus()))
	res := r.Retrieve(context.Background(), "database", 1)
	if res.Decision.Stage != StageKeyword || len(res.Chunks) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func Test_Similarity_Unclamped(t *testing.T) {
	t.Parallel()
	if similarity(nil) != nil {
		t.Error("nil distance must yield nil score")
	}
	d := 1.7
	if got := *similarity(&d); got > -0.69 || got < -0.71 {
		t.Errorf("similarity(1.7) = %v, want -0.7", got)
	}
}

func Test_Limit(t *testing.T) {
	t.Parallel()
	in := []ExperienceChunk{{ExperienceID: 1}, {ExperienceID: 1}, {ExperienceID: 2}}
	if out := limit(in, 2); len(out) != 2 || out[1].ExperienceID != 1 {
		t.Errorf("limit(2) = %+v", out)
	}
	if out := limit(in, 5); len(out) != 3 {
		t.Errorf("limit(5) = %+v", out)
	}
}

// Corpus entries usually carry no id; the fallback must still return every
// entry the matcher ranked.
func Test_Experience_FallbackKeepsIDlessEntries(t *testing.T) {
	t.Parallel()
	corpus := []Experience{
		{Title: "A", Description: "database tuning"},
		{Title: "B", Description: "network routing"},
		{Title: "C", Description: "database migrations"},
	}
	emb := newCountingEmbedder()
	emb.err = errors.New("provider down")
	primary, err := NewVectorRetriever(openStore(t), emb)
	if err != nil {
		t.Fatalf("NewVectorRetriever: %v", err)
	}
	r := NewExperienceRetriever(primary, NewKeywordRetriever(NewStaticCorpus(corpus)))

	query := "database performance tuning issue"
	res := r.Retrieve(context.Background(), query, 3)
	want := MatchByKeywords(query, corpus, 3)
	if res.Decision.Stage != StageKeyword {
		t.Fatalf("want keyword stage, got %s", res.Decision.Stage)
	}
	if len(res.Chunks) != len(want) {
		t.Fatalf("retriever returned %d, matcher returned %d", len(res.Chunks), len(want))
	}
	ids := make(map[string]struct{}, len(res.Chunks))
	for i, c := range res.Chunks {
		if c.Formatted() != want[i] {
			t.Errorf("result %d:\nwant %q\ngot  %q", i, want[i], c.Formatted())
		}
		ids[c.ChunkID] = struct{}{}
	}
	if len(ids) != len(res.Chunks) {
		t.Errorf("chunk ids are not unique: %v", ids)
	}
	if res.Chunks[0].Title != "A" || res.Chunks[0].ChunkID != "corpus_idx_0" {
		t.Errorf("first chunk = %+v", res.Chunks[0])
	}
}

func Test_QA_RetrieveAndDedupe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := newCountingEmbedder()
	s := openStore(t)
	col, err := s.EnsureCollection(ctx, vectorstore.CollectionTechnicalQA)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	add := func(id, doc string, meta vectorstore.Metadata) {
		t.Helper()
		vec, err := emb.Embed(ctx, doc, embedder.TaskRetrievalDocument)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if err := s.Add(ctx, col, vectorstore.Record{ID: id, Embedding: vec, Document: doc, Metadata: meta}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	add("qa_1_chunk_0", "Question: What is a goroutine?\n\nAnswer (part 1): A lightweight thread",
		vectorstore.QAMeta{QAID: "1", Question: "What is a goroutine?", ChunkIndex: 0, TotalChunks: 2}.Encode())
	add("qa_1_chunk_1", "Question: What is a goroutine?\n\nAnswer (part 2): managed by the runtime",
		vectorstore.QAMeta{QAID: "1", Question: "What is a goroutine?", ChunkIndex: 1, TotalChunks: 2}.Encode())
	add("qa_2", "Question: What is a channel?\n\nAnswer: A typed conduit between goroutines", nil)

	r, err := NewQARetriever(s, emb)
	if err != nil {
		t.Fatalf("NewQARetriever: %v", err)
	}
	pairs := r.RetrieveTechnicalQA(ctx, "goroutine question", 5)
	if len(pairs) != 2 {
		t.Fatalf("want 2 pairs, got %+v", pairs)
	}
	ids := map[string]QAPair{}
	for _, p := range pairs {
		if _, dup := ids[p.QAID]; dup {
			t.Errorf("duplicate qa id %s", p.QAID)
		}
		ids[p.QAID] = p
	}
	if p := ids["1"]; p.Question != "What is a goroutine?" || !strings.HasPrefix(p.Answer, "A lightweight") && !strings.HasPrefix(p.Answer, "managed") {
		t.Errorf("qa 1 = %+v", p)
	}
	if p := ids["qa_2"]; p.Question != "What is a channel?" || p.Answer != "A typed conduit between goroutines" {
		t.Errorf("document-parsed pair = %+v", p)
	}
}

func Test_QA_BestEffort(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("missing collection", func(t *testing.T) {
		t.Parallel()
		emb := newCountingEmbedder()
		r, _ := NewQARetriever(openStore(t), emb)
		if got := r.RetrieveTechnicalQA(ctx, "anything", 3); len(got) != 0 {
			t.Errorf("want empty, got %+v", got)
		}
	})
	t.Run("store down", func(t *testing.T) {
		t.Parallel()
		emb := newCountingEmbedder()
		s := &faultyStore{Store: openStore(t), getErr: vectorstore.ErrUnavailable}
		r, _ := NewQARetriever(s, emb)
		if got := r.RetrieveTechnicalQA(ctx, "anything", 3); len(got) != 0 {
			t.Errorf("want empty, got %+v", got)
		}
	})
	t.Run("embedding failure", func(t *testing.T) {
		t.Parallel()
		s := openStore(t)
		col, _ := s.EnsureCollection(ctx, vectorstore.CollectionTechnicalQA)
		_ = s.Add(ctx, col, vectorstore.Record{ID: "qa_1", Embedding: []float32{1, 0}, Document: "Question: q\n\nAnswer: a"})
		emb := newCountingEmbedder()
		emb.err = errors.New("boom")
		r, _ := NewQARetriever(s, emb)
		if got := r.RetrieveTechnicalQA(ctx, "anything", 3); len(got) != 0 {
			t.Errorf("want empty, got %+v", got)
		}
	})
	t.Run("blank query", func(t *testing.T) {
		t.Parallel()
		emb := newCountingEmbedder()
		r, _ := NewQARetriever(openStore(t), emb)
		if got := r.RetrieveTechnicalQA(ctx, "  ", 3); len(got) != 0 {
			t.Errorf("want empty, got %+v", got)
		}
		if emb.calls.Load() != 0 {
			t.Error("embedder must not be called for a blank query")
		}
	})
}

func Test_ParseQADocument(t *testing.T) {
	t.Parallel()
	cases := []struct {
		doc, q, a string
	}{
		{"Question: Why?\n\nAnswer: Because.", "Why?", "Because."},
		{"Question: Why?\n\nAnswer (part 2): Because.", "Why?", "Because."},
		{"Answer: only an answer", "", "only an answer"},
		{"Question: only a question", "only a question", ""},
		{"no markers at all", "", ""},
		{"Question: Why?\n\nAnswer: Because.\n\nTags: go, sql\nCategory: backend", "Why?", "Because."},
		{"Question: What is the Answer to idempotency?\n\nAnswer: Repeat-safe ops.", "What is the Answer to idempotency?", "Repeat-safe ops."},
		{"Question: Answer: which one?\n\nAnswer (part 1): The first.", "Answer: which one?", "The first."},
		{"Question: Explain answers\nAnswering machines exist.\n\nAnswer: Yes.", "Explain answers\nAnswering machines exist.", "Yes."},
	}
	for _, tc := range cases {
		q, a := parseQADocument(tc.doc)
		if q != tc.q || a != tc.a {
			t.Errorf("parseQADocument(%q) = (%q, %q), want (%q, %q)", tc.doc, q, a, tc.q, tc.a)
		}
	}
}
