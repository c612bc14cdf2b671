package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Payload keys reserved by QdrantStore. Qdrant point IDs must be UUIDs or
// unsigned integers, so the caller's string ID is kept in the payload.
const (
	payloadDocID    = "_doc_id"
	payloadDocument = "_document"
)

// Compile-time check that QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// VectorSize is the dimensionality of the embeddings stored in new
	// collections. Required: Qdrant fixes the size at creation time.
	VectorSize uint64

	// Metric selects the collection distance. MetricL2Squared is not
	// supported by Qdrant.
	Metric Metric

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements Store backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a QdrantStore. Collections are created lazily by
// EnsureCollection rather than at construction.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if _, err := qdrantDistance(cfg.Metric); err != nil {
		return nil, err
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("vectorstore: qdrant requires a vector size (set RECALL_EMBEDDING_DIMENSIONS)")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// qdrantDistance maps a Metric to the Qdrant collection distance.
func qdrantDistance(m Metric) (qdrant.Distance, error) {
	switch m {
	case MetricCosine:
		return qdrant.Distance_Cosine, nil
	case MetricL2:
		return qdrant.Distance_Euclid, nil
	case MetricInnerProduct:
		return qdrant.Distance_Dot, nil
	default:
		return 0, fmt.Errorf("vectorstore: qdrant does not support metric %q", m)
	}
}

// Name returns the backend label.
func (s *QdrantStore) Name() string { return "qdrant" }

// Metric reports the collection distance.
func (s *QdrantStore) Metric() Metric { return s.cfg.Metric }

// Ping calls the Qdrant health endpoint.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return classifyQdrant("health check", "", err)
	}
	return nil
}

// EnsureCollection creates the Qdrant collection if it does not already
// exist. A create that loses a race against another writer falls back to
// an existence check.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string) (Collection, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return Collection{}, classifyQdrant("check collection", name, err)
	}
	if exists {
		return Collection{Name: name}, nil
	}

	dist, _ := qdrantDistance(s.cfg.Metric)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: dist,
		}),
	})
	if err != nil {
		if again, checkErr := s.client.CollectionExists(ctx, name); checkErr == nil && again {
			return Collection{Name: name}, nil
		}
		return Collection{}, classifyQdrant("create collection", name, err)
	}
	return Collection{Name: name}, nil
}

// GetCollection returns the collection or ErrCollectionNotFound.
func (s *QdrantStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return Collection{}, classifyQdrant("check collection", name, err)
	}
	if !exists {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return Collection{Name: name}, nil
}

// DeleteCollection drops the collection. Absent collections are ignored.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		err = classifyQdrant("delete collection", name, err)
		if errors.Is(err, ErrCollectionNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Add upserts records and waits for the write to be applied so a following
// Query observes it.
func (s *QdrantStore) Add(ctx context.Context, c Collection, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vectorstore: record id must not be empty")
		}
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = qdrantScalar(v)
		}
		payload[payloadDocID] = r.ID
		payload[payloadDocument] = r.Document

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(r.ID)),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.Name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return classifyQdrant("upsert", c.Name, err)
	}
	return nil
}

// Query performs a nearest-neighbour search. Qdrant reports similarity
// scores for cosine and dot collections; they are converted back to
// distances so every backend orders and scores results the same way.
func (s *QdrantStore) Query(ctx context.Context, c Collection, vector []float32, topK int) ([]Hit, error) {
	count, err := s.Count(ctx, c)
	if err != nil {
		return nil, err
	}
	topK = clampTopK(topK, count)
	if topK == 0 {
		return nil, nil
	}

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.Name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classifyQdrant("query", c.Name, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, doc, md := decodePayload(r.GetId(), r.GetPayload())
		d := distanceFromScore(s.cfg.Metric, r.GetScore())
		hits = append(hits, Hit{ID: id, Document: doc, Metadata: md, Distance: &d})
	}
	return hits, nil
}

// GetAll scrolls the whole collection in one page sized by Count.
func (s *QdrantStore) GetAll(ctx context.Context, c Collection) (Snapshot, error) {
	count, err := s.Count(ctx, c)
	if err != nil {
		return Snapshot{}, err
	}
	if count == 0 {
		return Snapshot{}, nil
	}
	if count > math.MaxUint32 {
		return Snapshot{}, fmt.Errorf("vectorstore: qdrant collection %s too large to scan (%d points)", c.Name, count)
	}

	limit := uint32(count)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: c.Name,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return Snapshot{}, classifyQdrant("scroll", c.Name, err)
	}

	var snap Snapshot
	for _, p := range points {
		id, doc, md := decodePayload(p.GetId(), p.GetPayload())
		snap.IDs = append(snap.IDs, id)
		snap.Documents = append(snap.Documents, doc)
		snap.Metadatas = append(snap.Metadatas, md)
	}
	return snap, nil
}

// DeleteByIDs removes documents from the collection by their IDs.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, c Collection, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pointUUID(id)))
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.Name,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return classifyQdrant("delete", c.Name, err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context, c Collection) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.Name,
		Exact:          &exact,
	})
	if err != nil {
		return 0, classifyQdrant("count", c.Name, err)
	}
	return int(n), nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointUUID maps a caller ID to a Qdrant point UUID. Valid UUIDs pass
// through; anything else gets a stable name-based UUID.
func pointUUID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// qdrantScalar narrows metadata values to the types qdrant.NewValueMap
// accepts.
func qdrantScalar(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case string, int64, float64, bool:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// decodePayload splits a Qdrant payload into the caller ID, the document
// body, and the remaining metadata.
func decodePayload(pid *qdrant.PointId, payload map[string]*qdrant.Value) (string, string, Metadata) {
	id := pid.GetUuid()
	var doc string
	md := make(Metadata, len(payload))
	for k, v := range payload {
		switch k {
		case payloadDocID:
			id = v.GetStringValue()
		case payloadDocument:
			doc = v.GetStringValue()
		default:
			md[k] = qdrantValue(v)
		}
	}
	return id, doc, md
}

// qdrantValue converts a payload value back to a Go scalar.
func qdrantValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}

// classifyQdrant maps gRPC status codes onto the package sentinels.
func classifyQdrant(op, collection string, err error) error {
	if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
		return fmt.Errorf("vectorstore: qdrant %s %s: %w: %w", op, collection, ErrCollectionNotFound, err)
	}
	return fmt.Errorf("vectorstore: qdrant %s %s: %w: %w", op, collection, ErrUnavailable, err)
}
