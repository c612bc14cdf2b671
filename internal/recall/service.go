// Package recall is the facade over retrieval and the response cache. It
// exposes the five entry points callers use: RetrieveExperiences,
// RetrieveTechnicalQA, CacheLookup, CacheStore, and CacheClear. No store
// handle or collection leaks through it.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/recall-go/internal/config"
	"github.com/54b3r/recall-go/internal/embedder"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/responsecache"
	"github.com/54b3r/recall-go/internal/retrieval"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

// Options wires a Service from already-constructed collaborators.
type Options struct {
	Store    vectorstore.Store
	Embedder embedder.Embedder
	// Corpus feeds the keyword fallback. Nil disables it.
	Corpus *retrieval.Corpus
	// Registerer receives the service metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
	// TopK is used when a caller passes topK <= 0.
	TopK int
	// Threshold is the cache similarity threshold used when a lookup does
	// not set one.
	Threshold float64
}

// Service owns the retrievers and the response cache.
type Service struct {
	store       vectorstore.Store
	embedder    embedder.Embedder
	experiences *retrieval.ExperienceRetriever
	qa          *retrieval.QARetriever
	cache       *responsecache.Cache
	metrics     *serviceMetrics
	topK        int
	threshold   float64
}

// New constructs a Service from opts.
func New(opts Options) (*Service, error) {
	primary, err := retrieval.NewVectorRetriever(opts.Store, opts.Embedder)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	qa, err := retrieval.NewQARetriever(opts.Store, opts.Embedder)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	cache, err := responsecache.New(opts.Store, opts.Embedder)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = responsecache.DefaultThreshold
	}

	return &Service{
		store:       opts.Store,
		embedder:    opts.Embedder,
		experiences: retrieval.NewExperienceRetriever(primary, retrieval.NewKeywordRetriever(opts.Corpus)),
		qa:          qa,
		cache:       cache,
		metrics:     newServiceMetrics(reg),
		topK:        topK,
		threshold:   threshold,
	}, nil
}

// NewFromConfig validates cfg, builds the embedder and vector store it
// selects, and returns a Service over them. Configuration errors such as
// missing credentials are returned before any connection is attempted.
func NewFromConfig(ctx context.Context, cfg *config.Settings, reg prometheus.Registerer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := embedder.Preflight(logging.FromContext(ctx), cfg.Embedding, cfg.Store); err != nil {
		return nil, err
	}

	emb, err := embedder.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("recall: embedder: %w", err)
	}
	store, err := vectorstore.New(cfg.Store, cfg.Embedding.Dimensions)
	if err != nil {
		closeEmbedder(emb)
		return nil, fmt.Errorf("recall: vector store: %w", err)
	}

	svc, err := New(Options{
		Store:      store,
		Embedder:   emb,
		Corpus:     retrieval.NewCorpus(cfg.Retrieval.CorpusPath),
		Registerer: reg,
		TopK:       cfg.Retrieval.TopK,
		Threshold:  cfg.Cache.Threshold,
	})
	if err != nil {
		_ = store.Close()
		closeEmbedder(emb)
		return nil, err
	}

	logging.FromContext(ctx).Info("recall: service ready",
		slog.String("embedding_provider", cfg.Embedding.Provider),
		slog.String("embedding_model", cfg.Embedding.Model),
		slog.String("vector_store", store.Name()),
		slog.String("metric", string(store.Metric())),
	)
	return svc, nil
}

// Store returns the underlying vector store for ingestion and readiness.
func (s *Service) Store() vectorstore.Store { return s.store }

// Embedder returns the configured embedder for ingestion.
func (s *Service) Embedder() embedder.Embedder { return s.embedder }

// Close releases the vector store and the embedding cache.
func (s *Service) Close() error {
	closeEmbedder(s.embedder)
	return s.store.Close()
}

func closeEmbedder(e embedder.Embedder) {
	if c, ok := e.(interface{ Close() }); ok {
		c.Close()
	}
}

func (s *Service) k(topK int) int {
	if topK <= 0 {
		return s.topK
	}
	return topK
}

func (s *Service) observe(op string, start time.Time) {
	s.metrics.opDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RetrieveExperiences returns up to topK formatted experience snippets,
// one per experience. It never fails: vector search problems degrade to
// keyword matching over the local corpus.
func (s *Service) RetrieveExperiences(ctx context.Context, query string, topK int) []string {
	chunks := s.RetrieveExperienceChunks(ctx, query, topK)
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Formatted()
	}
	return out
}

// RetrieveExperienceChunks is RetrieveExperiences with structured results.
func (s *Service) RetrieveExperienceChunks(ctx context.Context, query string, topK int) []retrieval.ExperienceChunk {
	defer s.observe(opRetrieveExperiences, time.Now())
	res := s.experiences.Retrieve(ctx, query, s.k(topK))
	s.metrics.retrievalsTotal.WithLabelValues(string(res.Decision.Stage)).Inc()
	return res.Chunks
}

// RetrieveTechnicalQA returns up to topK technical Q&A pairs. Failures
// yield an empty result.
func (s *Service) RetrieveTechnicalQA(ctx context.Context, query string, topK int) []retrieval.QAPair {
	defer s.observe(opRetrieveQA, time.Now())
	pairs := s.qa.RetrieveTechnicalQA(ctx, query, s.k(topK))
	outcome := "empty"
	if len(pairs) > 0 {
		outcome = "found"
	}
	s.metrics.qaRetrievalsTotal.WithLabelValues(outcome).Inc()
	return pairs
}

// CacheLookup returns a cached answer or nil. The error is non-nil only
// for an out-of-range threshold.
func (s *Service) CacheLookup(ctx context.Context, question string, opts responsecache.LookupOptions) (*responsecache.Hit, error) {
	defer s.observe(opCacheLookup, time.Now())
	if opts.Threshold == 0 {
		opts.Threshold = s.threshold
	}
	hit, err := s.cache.Lookup(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	outcome := "miss"
	if hit != nil {
		outcome = "hit"
	}
	s.metrics.cacheLookupsTotal.WithLabelValues(outcome).Inc()
	return hit, nil
}

// CacheStore caches answer for question and returns the new entry id.
// Callers should log a failure and continue.
func (s *Service) CacheStore(ctx context.Context, question, answer string, opts responsecache.StoreOptions) (string, error) {
	defer s.observe(opCacheStore, time.Now())
	id, err := s.cache.Store(ctx, question, answer, opts)
	if err != nil {
		s.metrics.cacheStoresTotal.WithLabelValues("error").Inc()
		return "", err
	}
	s.metrics.cacheStoresTotal.WithLabelValues("ok").Inc()
	return id, nil
}

// CacheClear removes cached answers matching f and returns the count.
func (s *Service) CacheClear(ctx context.Context, f responsecache.ClearFilter) (int, error) {
	defer s.observe(opCacheClear, time.Now())
	n, err := s.cache.Clear(ctx, f)
	if err != nil {
		return 0, err
	}
	s.metrics.cacheClearedTotal.Add(float64(n))
	return n, nil
}
