// Package ingestion loads experience and technical Q&A source files, chunks
// them, embeds each chunk, and writes the results into the vector store
// collections the retrievers read. It backs the `recall ingest` commands.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/recall-go/internal/embedder"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/retrieval"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 300 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by neighbouring
	// chunks. Defaults to 50 if zero.
	ChunkOverlap int

	// Concurrency bounds in-flight embedding requests. Defaults to 4.
	Concurrency int

	// BatchSize is the number of documents per store write. Defaults to 100.
	BatchSize int

	// Recreate drops the target collection before writing.
	Recreate bool
}

// Report summarises one ingestion run.
type Report struct {
	Collection string
	// Sources is the number of input records.
	Sources int
	// Documents is the number of chunks produced.
	Documents int
	// Stored is the number of chunks written.
	Stored int
	// Failed is the number of chunks skipped because embedding failed.
	Failed int
}

// Pipeline orchestrates the chunk → embed → store flow.
type Pipeline struct {
	embedder embedder.Embedder
	store    vectorstore.Store
	splitter *Splitter
	cfg      Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(emb embedder.Embedder, store vectorstore.Store, cfg *Config) (*Pipeline, error) {
	if emb == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}

	return &Pipeline{
		embedder: emb,
		store:    store,
		splitter: NewSplitter(c.ChunkSize, c.ChunkOverlap),
		cfg:      c,
	}, nil
}

// IngestExperiences writes experiences into the experience_store collection.
func (p *Pipeline) IngestExperiences(ctx context.Context, experiences []retrieval.Experience) (Report, error) {
	var docs []Document
	for _, e := range experiences {
		docs = append(docs, ExperienceDocuments(e, p.splitter)...)
	}
	r, err := p.ingest(ctx, vectorstore.CollectionExperiences, docs)
	r.Sources = len(experiences)
	return r, err
}

// IngestTechnicalQA writes Q&A pairs into the technical_qa collection.
func (p *Pipeline) IngestTechnicalQA(ctx context.Context, pairs []TechnicalQA) (Report, error) {
	var docs []Document
	for i, qa := range pairs {
		docs = append(docs, QADocuments(qa, i+1, p.splitter)...)
	}
	r, err := p.ingest(ctx, vectorstore.CollectionTechnicalQA, docs)
	r.Sources = len(pairs)
	return r, err
}

func (p *Pipeline) ingest(ctx context.Context, collection string, docs []Document) (Report, error) {
	log := logging.FromContext(ctx).With(slog.String("collection", collection))
	report := Report{Collection: collection, Documents: len(docs)}

	if p.cfg.Recreate {
		if err := p.store.DeleteCollection(ctx, collection); err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return report, fmt.Errorf("ingestion: recreate %s: %w", collection, err)
		}
		log.Info("ingestion: dropped existing collection")
	}
	col, err := p.store.EnsureCollection(ctx, collection)
	if err != nil {
		return report, fmt.Errorf("ingestion: %w", err)
	}
	if len(docs) == 0 {
		return report, nil
	}

	records, failed, err := p.embed(ctx, docs)
	if err != nil {
		return report, err
	}
	report.Failed = failed

	for start := 0; start < len(records); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(records))
		if err := p.store.Add(ctx, col, records[start:end]...); err != nil {
			return report, fmt.Errorf("ingestion: store batch %d-%d: %w", start, end, err)
		}
		report.Stored += end - start
		log.Info("ingestion: stored batch", slog.Int("stored", report.Stored), slog.Int("total", len(records)))
	}

	log.Info("ingestion: complete",
		slog.Int("documents", report.Documents),
		slog.Int("stored", report.Stored),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// embed embeds docs with bounded concurrency. A failed chunk is logged and
// skipped; only context cancellation aborts the run. Records keep the
// order of docs.
func (p *Pipeline) embed(ctx context.Context, docs []Document) ([]vectorstore.Record, int, error) {
	log := logging.FromContext(ctx)
	vecs := make([][]float32, len(docs))

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, d := range docs {
		g.Go(func() error {
			v, err := p.embedder.Embed(gctx, d.Text, embedder.TaskRetrievalDocument)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn("ingestion: embedding failed, skipping chunk",
					slog.String("id", d.ID),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			vecs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failed, fmt.Errorf("ingestion: embedding: %w", err)
	}

	records := make([]vectorstore.Record, 0, len(docs))
	for i, d := range docs {
		if vecs[i] == nil {
			continue
		}
		records = append(records, vectorstore.Record{
			ID:        d.ID,
			Embedding: vecs[i],
			Document:  d.Text,
			Metadata:  d.Metadata,
		})
	}
	return records, failed, nil
}
