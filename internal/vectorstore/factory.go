package vectorstore

import (
	"fmt"

	"github.com/54b3r/recall-go/internal/config"
)

// New constructs the Store selected by s. dims is the embedding size, which
// Qdrant needs to create collections and chromem needs to scan them.
//
// Default metrics per backend: sqlite and qdrant use cosine unless
// VECTOR_STORE_METRIC overrides it; chromem is always cosine.
func New(s config.StoreSettings, dims int) (Store, error) {
	metric, err := ParseMetric(s.Metric)
	if err != nil {
		return nil, err
	}

	switch s.Backend {
	case "", "sqlite":
		path := s.Path
		if path == "" {
			path, err = DefaultDBPath()
			if err != nil {
				return nil, err
			}
		}
		return OpenSQLite(path, metric)

	case "qdrant":
		if dims <= 0 {
			return nil, fmt.Errorf("vectorstore: qdrant requires EMBEDDING_DIMENSIONS > 0")
		}
		return NewQdrantStore(&QdrantConfig{
			Host:       s.QdrantHost,
			Port:       s.QdrantPort,
			VectorSize: uint64(dims),
			Metric:     metric,
			APIKey:     s.QdrantAPIKey,
			UseTLS:     s.QdrantTLS,
		})

	case "chromem":
		if metric != MetricCosine {
			return nil, fmt.Errorf("vectorstore: chromem only supports the cosine metric, got %q", metric)
		}
		return NewChromemStore(ChromemConfig{Path: s.Path, Compress: true, Dimensions: dims})

	default:
		return nil, fmt.Errorf("vectorstore: unknown backend %q (valid: sqlite, qdrant, chromem)", s.Backend)
	}
}
