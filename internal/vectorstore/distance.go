package vectorstore

import (
	"fmt"
	"math"
	"strings"
)

// Metric names the distance function a store uses to rank neighbours.
// Similarity derived as 1 − distance only lands in [0,1] for MetricCosine
// with non-negative cosine; other metrics can yield values outside that
// range and callers are expected to observe rather than clamp them.
type Metric string

const (
	// MetricCosine is cosine distance, 1 − cos(a, b), in [0, 2].
	MetricCosine Metric = "cosine"
	// MetricL2 is Euclidean distance, unbounded.
	MetricL2 Metric = "l2"
	// MetricL2Squared is squared Euclidean distance, unbounded. It is the
	// default of Chroma-style stores.
	MetricL2Squared Metric = "l2sq"
	// MetricInnerProduct is 1 − dot(a, b).
	MetricInnerProduct Metric = "ip"
)

// ParseMetric converts a configuration string to a Metric. An empty string
// selects MetricCosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricL2, "euclid", "euclidean":
		return MetricL2, nil
	case MetricL2Squared:
		return MetricL2Squared, nil
	case MetricInnerProduct, "dot":
		return MetricInnerProduct, nil
	default:
		return "", fmt.Errorf("vectorstore: unknown metric %q (valid: cosine, l2, l2sq, ip)", s)
	}
}

// Distance computes the distance between a and b under m.
func Distance(m Metric, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectorstore: dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("vectorstore: distance on empty vectors")
	}

	switch m {
	case MetricCosine:
		var dot, na2, nb2 float64
		for i := range a {
			va, vb := float64(a[i]), float64(b[i])
			dot += va * vb
			na2 += va * va
			nb2 += vb * vb
		}
		if na2 == 0 || nb2 == 0 {
			return 0, fmt.Errorf("vectorstore: cosine distance with zero-magnitude vector")
		}
		return 1 - dot/(math.Sqrt(na2)*math.Sqrt(nb2)), nil
	case MetricL2, MetricL2Squared:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		if m == MetricL2 {
			return math.Sqrt(sum), nil
		}
		return sum, nil
	case MetricInnerProduct:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return 1 - dot, nil
	default:
		return 0, fmt.Errorf("vectorstore: unsupported metric %q", m)
	}
}

// distanceFromScore converts a backend similarity score to a distance under
// m. Engines that rank by similarity (Qdrant cosine/dot, chromem) report
// scores; engines that rank by Euclidean distance report the distance itself.
func distanceFromScore(m Metric, score float32) float64 {
	switch m {
	case MetricL2, MetricL2Squared:
		return float64(score)
	default:
		return 1 - float64(score)
	}
}
