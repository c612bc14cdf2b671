package server

import (
	"context"
	"fmt"

	"github.com/54b3r/recall-go/internal/embedder"
)

// readinessProbeText is embedded by EmbedderPinger. It is short so a probe
// costs a handful of tokens at most.
const readinessProbeText = "readiness probe"

// EmbedderPinger probes the embedding provider with a one-phrase embed
// request. When the embedder is wrapped in a cache, repeated probes are
// answered from memory, so the check proves the provider answered at
// least once since startup.
type EmbedderPinger struct {
	// embedder is the provider to probe.
	embedder embedder.Embedder
	// name identifies the provider in readiness responses (e.g. "gemini").
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger labelled "embedder:<name>".
func NewEmbedderPinger(e embedder.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: "embedder:" + name}
}

// Name returns the label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping embeds a short phrase and checks a vector came back.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vec, err := p.embedder.Embed(ctx, readinessProbeText, embedder.TaskRetrievalQuery)
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(vec) == 0 {
		return fmt.Errorf("embed returned an empty vector")
	}
	return nil
}
