package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/54b3r/recall-go/internal/embedder"
	"github.com/54b3r/recall-go/internal/retrieval"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

func Test_Splitter_ShortText(t *testing.T) {
	t.Parallel()
	sp := NewSplitter(300, 50)
	got := sp.Split("  Led the migration.\n\nCut costs by 30%.  ")
	if len(got) != 1 || got[0] != "Led the migration.\n\nCut costs by 30%." {
		t.Errorf("Split = %q", got)
	}
	if got := sp.Split(" \n "); len(got) != 0 {
		t.Errorf("blank text should yield no chunks, got %q", got)
	}
}

func Test_Splitter_CharacterFallback(t *testing.T) {
	t.Parallel()
	got := NewSplitter(300, 50).Split(strings.Repeat("x", 400))
	if len(got) != 2 || len(got[0]) != 300 || len(got[1]) != 150 {
		lens := make([]int, len(got))
		for i, c := range got {
			lens[i] = len(c)
		}
		t.Errorf("chunk lengths = %v, want [300 150]", lens)
	}
}

func Test_Splitter_WordsBoundedWithOverlap(t *testing.T) {
	t.Parallel()
	var words []string
	for i := range 200 {
		words = append(words, "w"+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	text := strings.Join(words, " ")
	chunks := NewSplitter(300, 50).Split(text)
	if len(chunks) < 3 {
		t.Fatalf("want several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 300 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if i > 0 {
			first := strings.Fields(c)[0]
			if !strings.Contains(chunks[i-1], first) {
				t.Errorf("chunk %d does not overlap its predecessor (starts with %q)", i, first)
			}
		}
	}
	// Every word survives chunking.
	joined := strings.Join(chunks, " ")
	for _, w := range words {
		if !strings.Contains(joined, w) {
			t.Fatalf("word %q lost", w)
		}
	}
}

func Test_Splitter_PrefersParagraphs(t *testing.T) {
	t.Parallel()
	p1 := strings.Repeat("a", 200)
	p2 := strings.Repeat("b", 200)
	got := NewSplitter(300, 50).Split(p1 + "\n\n" + p2)
	if len(got) != 2 || got[0] != p1 || got[1] != p2 {
		t.Errorf("want paragraphs kept whole, got %q", got)
	}
}

func Test_ExperienceDocuments(t *testing.T) {
	t.Parallel()
	sp := NewSplitter(300, 50)

	t.Run("chunked description", func(t *testing.T) {
		e := retrieval.Experience{
			ID: 3, Title: "Search rewrite", Company: "Acme",
			Description: strings.Repeat("Rebuilt the ranking pipeline. ", 30),
			Situation:   "s", Task: "t", Action: "a", Result: "r",
		}
		docs := ExperienceDocuments(e, sp)
		if len(docs) < 2 {
			t.Fatalf("want multiple chunks, got %d", len(docs))
		}
		for i, d := range docs {
			if want := "exp_3_chunk_" + string(rune('0'+i)); d.ID != want {
				t.Errorf("doc %d id = %q, want %q", i, d.ID, want)
			}
			if !strings.HasPrefix(d.Text, "Title: Search rewrite\nCompany: Acme\nDescription: ") {
				t.Errorf("doc %d text = %q", i, d.Text)
			}
			meta, ok := vectorstore.DecodeExperience(d.Metadata)
			if !ok || meta.ExperienceID != 3 || meta.ChunkIndex != i || meta.TotalChunks != len(docs) {
				t.Errorf("doc %d metadata = %+v", i, meta)
			}
			if meta.StarFormat != retrieval.FormatSTAR(e) {
				t.Errorf("doc %d star format = %q", i, meta.StarFormat)
			}
		}
	})

	t.Run("empty description", func(t *testing.T) {
		e := retrieval.Experience{ID: 4, Title: "T", Company: "C", Situation: "S", Task: "K", Action: "A", Result: "R"}
		docs := ExperienceDocuments(e, sp)
		if len(docs) != 1 {
			t.Fatalf("want 1 doc, got %d", len(docs))
		}
		want := "Title: T\nCompany: C\nSituation: S\nTask: K\nAction: A\nResult: R"
		if docs[0].Text != want || docs[0].ID != "exp_4_chunk_0" {
			t.Errorf("doc = %+v", docs[0])
		}
	})
}

func Test_QADocuments(t *testing.T) {
	t.Parallel()
	sp := NewSplitter(300, 50)

	short := QADocuments(TechnicalQA{Question: "What is a WAL?", Answer: "A write-ahead log.", Tags: []string{"db", "storage"}, Category: "databases"}, 7, sp)
	if len(short) != 1 || short[0].ID != "qa_7" {
		t.Fatalf("short = %+v", short)
	}
	want := "Question: What is a WAL?\n\nAnswer: A write-ahead log.\n\nTags: db, storage\n\nCategory: databases"
	if short[0].Text != want {
		t.Errorf("text = %q", short[0].Text)
	}
	meta := vectorstore.DecodeQA(short[0].Metadata)
	if meta.QAID != "7" || meta.Tags != "db, storage" || meta.TotalChunks != 1 {
		t.Errorf("meta = %+v", meta)
	}

	long := QADocuments(TechnicalQA{ID: "mvcc", Question: strings.Repeat("q", 250), Answer: strings.Repeat("Snapshots isolate readers. ", 40)}, 1, sp)
	if len(long) < 2 {
		t.Fatalf("want chunked answer, got %d docs", len(long))
	}
	for i, d := range long {
		if !strings.HasPrefix(d.ID, "qa_mvcc_chunk_") {
			t.Errorf("id = %q", d.ID)
		}
		if !strings.Contains(d.Text, "Answer (part ") {
			t.Errorf("chunk %d text lacks part marker", i)
		}
		m := vectorstore.DecodeQA(d.Metadata)
		if utf8.RuneCountInString(m.Question) != 200 || utf8.RuneCountInString(m.Answer) != 500 {
			t.Errorf("metadata not truncated: q=%d a=%d", len(m.Question), len(m.Answer))
		}
		if m.ChunkIndex != i || m.TotalChunks != len(long) {
			t.Errorf("chunk %d metadata = %+v", i, m)
		}
	}
}

func Test_LoadTechnicalQA(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "qa.json")
	body := `[{"id": 12, "question": "q1", "answer": "a1", "tags": ["x"]}, {"id": "abc", "question": "q2", "answer": "a2"}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadTechnicalQA(path)
	if err != nil {
		t.Fatalf("LoadTechnicalQA: %v", err)
	}
	if len(got) != 2 || got[0].ID != "12" || got[1].ID != "abc" {
		t.Errorf("got %+v", got)
	}

	missing, err := LoadTechnicalQA(filepath.Join(dir, "absent.json"))
	if err != nil || len(missing) != 0 {
		t.Errorf("missing file = %v, %v", missing, err)
	}
}

// flakyEmbedder fails for any text containing "FAIL".
type flakyEmbedder struct{ inner embedder.Embedder }

func (f flakyEmbedder) Embed(ctx context.Context, text string, task embedder.TaskType) ([]float32, error) {
	if strings.Contains(text, "FAIL") {
		return nil, errors.New("provider rejected input")
	}
	return f.inner.Embed(ctx, text, task)
}

func newTestPipeline(t *testing.T, cfg *Config) (*Pipeline, vectorstore.Store) {
	t.Helper()
	s, err := vectorstore.OpenSQLite(":memory:", vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	p, err := NewPipeline(flakyEmbedder{inner: embedder.NewHashEmbedder(64)}, s, cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, s
}

func count(t *testing.T, s vectorstore.Store, name string) int {
	t.Helper()
	col, err := s.GetCollection(context.Background(), name)
	if err != nil {
		t.Fatalf("GetCollection(%s): %v", name, err)
	}
	n, err := s.Count(context.Background(), col)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func Test_Pipeline_IngestExperiences(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, s := newTestPipeline(t, &Config{BatchSize: 1})
	exps := []retrieval.Experience{
		{ID: 1, Title: "Outage", Company: "Acme", Description: "Restored the payments API after a bad deploy."},
		{ID: 2, Title: "FAIL", Company: "Acme", Description: "This chunk cannot be embedded."},
		{ID: 3, Title: "Hiring", Company: "Beta", Situation: "Team of two"},
	}
	r, err := p.IngestExperiences(ctx, exps)
	if err != nil {
		t.Fatalf("IngestExperiences: %v", err)
	}
	if r.Sources != 3 || r.Documents != 3 || r.Stored != 2 || r.Failed != 1 {
		t.Errorf("report = %+v", r)
	}
	if n := count(t, s, vectorstore.CollectionExperiences); n != 2 {
		t.Errorf("stored %d documents, want 2", n)
	}

	primary, err := retrieval.NewVectorRetriever(s, embedder.NewHashEmbedder(64))
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := primary.Retrieve(ctx, "payments API deploy outage", 1)
	if err != nil || len(chunks) != 1 || chunks[0].ExperienceID != 1 {
		t.Fatalf("retrieve after ingest = %+v, %v", chunks, err)
	}
}

func Test_Pipeline_Recreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, s := newTestPipeline(t, nil)
	first := []TechnicalQA{{ID: "1", Question: "q1", Answer: "a1"}, {ID: "2", Question: "q2", Answer: "a2"}}
	if _, err := p.IngestTechnicalQA(ctx, first); err != nil {
		t.Fatal(err)
	}

	p.cfg.Recreate = true
	r, err := p.IngestTechnicalQA(ctx, []TechnicalQA{{ID: "3", Question: "q3", Answer: "a3"}})
	if err != nil {
		t.Fatal(err)
	}
	if r.Stored != 1 {
		t.Errorf("report = %+v", r)
	}
	if n := count(t, s, vectorstore.CollectionTechnicalQA); n != 1 {
		t.Errorf("recreate left %d documents, want 1", n)
	}
}

func Test_Pipeline_CancelledContext(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.IngestTechnicalQA(ctx, []TechnicalQA{{ID: "1", Question: "q", Answer: "a"}})
	if err == nil {
		t.Fatal("want error for a cancelled context")
	}
}
