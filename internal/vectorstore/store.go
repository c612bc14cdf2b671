// Package vectorstore defines the adapter boundary between the retrieval
// components and an external vector-indexed document store. Concrete
// backends (SQLite, Qdrant, chromem) satisfy [Store] so the retrievers and
// the response cache never depend on a specific engine.
//
// Every backend reports distances under an explicit [Metric]; similarity is
// derived by callers as 1 − distance and is never normalised here.
package vectorstore

import (
	"context"
	"errors"
)

// Fixed collection names shared by ingestion, retrieval, and the response cache.
const (
	// CollectionExperiences holds chunked prior-experience narratives.
	CollectionExperiences = "experience_store"
	// CollectionTechnicalQA holds technical question/answer pairs.
	CollectionTechnicalQA = "technical_qa"
	// CollectionResponses holds previously generated answers keyed by question embedding.
	CollectionResponses = "response_store"
)

var (
	// ErrCollectionNotFound is returned when the named collection does not
	// exist. Callers treat it as "no data yet", never as an outage.
	ErrCollectionNotFound = errors.New("vectorstore: collection not found")

	// ErrUnavailable marks failures talking to the underlying store
	// (connection refused, timeouts, I/O errors). Callers treat it as
	// fallback-worthy.
	ErrUnavailable = errors.New("vectorstore: store unavailable")

	// ErrMetricMismatch is returned when a persisted collection was built
	// with a different distance metric than the store was opened with.
	// Recreate the collection to switch metrics.
	ErrMetricMismatch = errors.New("vectorstore: collection metric mismatch")
)

// Collection is a handle to a logical namespace inside a Store. It is a
// plain value; it never outlives the Store that produced it.
type Collection struct {
	// Name is the logical collection name (e.g. "experience_store").
	Name string
}

// Record is a single document written to a collection.
type Record struct {
	// ID is the caller-chosen unique identifier within the collection.
	ID string
	// Embedding is the vector under which the document is indexed.
	Embedding []float32
	// Document is the raw document body.
	Document string
	// Metadata is a flat map of scalar values (string, integer, float, bool).
	Metadata Metadata
}

// Hit is one nearest-neighbour result returned by [Store.Query].
type Hit struct {
	// ID is the stored document identifier.
	ID string
	// Document is the stored document body. Empty when the store did not return it.
	Document string
	// Metadata is the stored metadata. Nil when the store did not return it.
	Metadata Metadata
	// Distance is the distance between the query vector and the document
	// under the store's Metric. Nil when the store did not report one.
	Distance *float64
}

// Snapshot is the result of a full collection scan. The three slices are
// parallel: Documents[i] and Metadatas[i] belong to IDs[i].
type Snapshot struct {
	IDs       []string
	Documents []string
	Metadatas []Metadata
}

// Store is the interface implemented by every vector store backend.
// Implementations must be safe to call from multiple goroutines.
type Store interface {
	// EnsureCollection returns the named collection, creating it when absent.
	// Concurrent first calls for the same name must all succeed.
	EnsureCollection(ctx context.Context, name string) (Collection, error)

	// GetCollection returns the named collection or ErrCollectionNotFound.
	GetCollection(ctx context.Context, name string) (Collection, error)

	// DeleteCollection drops the named collection and all its documents.
	// Deleting an absent collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// Add upserts records into the collection.
	Add(ctx context.Context, c Collection, records ...Record) error

	// Query returns up to topK hits ordered by ascending distance. topK is
	// clamped to the collection's current Count.
	Query(ctx context.Context, c Collection, vector []float32, topK int) ([]Hit, error)

	// GetAll returns every document in the collection. It is intended for
	// administrative listing and filtered deletion, never for similarity search.
	GetAll(ctx context.Context, c Collection) (Snapshot, error)

	// DeleteByIDs removes the given documents. Unknown IDs are ignored.
	DeleteByIDs(ctx context.Context, c Collection, ids []string) error

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, c Collection) (int, error)

	// Metric reports the distance metric used by Query.
	Metric() Metric

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Name is a short backend label used in logs and readiness checks.
	Name() string

	// Close releases any resources held by the store.
	Close() error
}

// clampTopK bounds a requested result count by the collection size.
func clampTopK(topK, count int) int {
	if topK > count {
		return count
	}
	if topK < 0 {
		return 0
	}
	return topK
}
