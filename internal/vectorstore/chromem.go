package vectorstore

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Compile-time check that ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for a persistent database. Empty keeps
	// everything in memory for the lifetime of the process.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Dimensions is the embedding size, used to build the probe vector for
	// full scans of collections this process has not written to yet.
	Dimensions int
}

// ChromemStore wraps chromem-go, a pure Go embedded vector database.
// chromem normalises vectors and ranks by cosine similarity, so the metric
// is always MetricCosine. Metadata round-trips as strings; the schema
// accessors in this package parse numbers back out.
type ChromemStore struct {
	db *chromem.DB

	// mu guards dims.
	mu sync.Mutex
	// dims records the embedding size seen per collection.
	dims map[string]int

	defaultDims int
}

// NewChromemStore opens an in-memory or persistent chromem database.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: chromem open %s: %w", cfg.Path, err)
		}
	}
	return &ChromemStore{db: db, dims: make(map[string]int), defaultDims: cfg.Dimensions}, nil
}

// Name returns the backend label.
func (s *ChromemStore) Name() string { return "chromem" }

// Metric is always cosine for chromem.
func (s *ChromemStore) Metric() Metric { return MetricCosine }

// Ping always succeeds; the database is in-process.
func (s *ChromemStore) Ping(context.Context) error { return nil }

// EnsureCollection returns the named collection, creating it when absent.
// chromem's GetOrCreateCollection is internally locked, so concurrent
// first writers converge on one collection.
func (s *ChromemStore) EnsureCollection(_ context.Context, name string) (Collection, error) {
	if _, err := s.db.GetOrCreateCollection(name, nil, nil); err != nil {
		return Collection{}, fmt.Errorf("vectorstore: chromem create collection %s: %w: %w", name, ErrUnavailable, err)
	}
	return Collection{Name: name}, nil
}

// GetCollection returns the collection or ErrCollectionNotFound.
func (s *ChromemStore) GetCollection(_ context.Context, name string) (Collection, error) {
	if s.db.GetCollection(name, nil) == nil {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return Collection{Name: name}, nil
}

// DeleteCollection drops the collection.
func (s *ChromemStore) DeleteCollection(_ context.Context, name string) error {
	if s.db.GetCollection(name, nil) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("vectorstore: chromem delete collection %s: %w: %w", name, ErrUnavailable, err)
	}
	s.mu.Lock()
	delete(s.dims, name)
	s.mu.Unlock()
	return nil
}

// collection resolves a handle to the live chromem collection.
func (s *ChromemStore) collection(c Collection) (*chromem.Collection, error) {
	col := s.db.GetCollection(c.Name, nil)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, c.Name)
	}
	return col, nil
}

// Add upserts records. chromem replaces documents with an existing ID.
func (s *ChromemStore) Add(ctx context.Context, c Collection, records ...Record) error {
	col, err := s.collection(c)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vectorstore: record id must not be empty")
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("vectorstore: record %s has no embedding", r.ID)
		}
		meta := make(map[string]string, len(r.Metadata))
		for k := range r.Metadata {
			if v, ok := r.Metadata.String(k); ok {
				meta[k] = v
			}
		}
		// chromem normalises the slice in place.
		emb := append([]float32(nil), r.Embedding...)
		doc := chromem.Document{ID: r.ID, Content: r.Document, Metadata: meta, Embedding: emb}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("vectorstore: chromem add %s: %w: %w", r.ID, ErrUnavailable, err)
		}
		s.mu.Lock()
		s.dims[c.Name] = len(r.Embedding)
		s.mu.Unlock()
	}
	return nil
}

// Query returns up to topK nearest documents ordered by ascending cosine distance.
func (s *ChromemStore) Query(ctx context.Context, c Collection, vector []float32, topK int) ([]Hit, error) {
	col, err := s.collection(c)
	if err != nil {
		return nil, err
	}
	topK = clampTopK(topK, col.Count())
	if topK == 0 {
		return nil, nil
	}
	probe := append([]float32(nil), vector...)
	results, err := col.QueryEmbedding(ctx, probe, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: chromem query %s: %w: %w", c.Name, ErrUnavailable, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		d := distanceFromScore(MetricCosine, r.Similarity)
		hits = append(hits, Hit{ID: r.ID, Document: r.Content, Metadata: stringMetadata(r.Metadata), Distance: &d})
	}
	return hits, nil
}

// GetAll lists every document. chromem has no scan API, so this issues an
// exhaustive query with a uniform probe vector; result order follows
// similarity to that probe, not insertion.
func (s *ChromemStore) GetAll(ctx context.Context, c Collection) (Snapshot, error) {
	col, err := s.collection(c)
	if err != nil {
		return Snapshot{}, err
	}
	n := col.Count()
	if n == 0 {
		return Snapshot{}, nil
	}

	s.mu.Lock()
	dim, ok := s.dims[c.Name]
	s.mu.Unlock()
	if !ok {
		dim = s.defaultDims
	}
	if dim <= 0 {
		return Snapshot{}, fmt.Errorf("vectorstore: chromem scan %s: embedding dimensions unknown", c.Name)
	}
	probe := make([]float32, dim)
	for i := range probe {
		probe[i] = 1
	}

	results, err := col.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("vectorstore: chromem scan %s: %w: %w", c.Name, ErrUnavailable, err)
	}
	var snap Snapshot
	for _, r := range results {
		snap.IDs = append(snap.IDs, r.ID)
		snap.Documents = append(snap.Documents, r.Content)
		snap.Metadatas = append(snap.Metadatas, stringMetadata(r.Metadata))
	}
	return snap, nil
}

// DeleteByIDs removes the given documents.
func (s *ChromemStore) DeleteByIDs(ctx context.Context, c Collection, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(c)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("vectorstore: chromem delete %s: %w: %w", c.Name, ErrUnavailable, err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (s *ChromemStore) Count(_ context.Context, c Collection) (int, error) {
	col, err := s.collection(c)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close is a no-op; persistent databases write through on every change.
func (s *ChromemStore) Close() error { return nil }

func stringMetadata(in map[string]string) Metadata {
	if in == nil {
		return nil
	}
	md := make(Metadata, len(in))
	for k, v := range in {
		md[k] = v
	}
	return md
}
