package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/recall-go/internal/logging"
)

// Experience is one record of the experience corpus. The same file feeds
// vector ingestion and the keyword fallback.
type Experience struct {
	ID          int64  `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Company     string `json:"company" yaml:"company"`
	Description string `json:"description" yaml:"description"`
	Situation   string `json:"situation" yaml:"situation"`
	Task        string `json:"task" yaml:"task"`
	Action      string `json:"action" yaml:"action"`
	Result      string `json:"result" yaml:"result"`
}

// FormatSTAR renders an experience as the STAR block shown to the answer
// generator.
func FormatSTAR(e Experience) string {
	return fmt.Sprintf("EXPERIENCE %d - %s:\nSituation: \"%s\"\n\nTask: \"%s\"\n\nAction: \"%s\"\n\nResult: \"%s\"\n",
		e.ID, e.Title, e.Situation, e.Task, e.Action, e.Result)
}

// LoadExperiences reads a corpus file. Files ending in .yaml or .yml are
// parsed as YAML; everything else as JSON. Both hold a top-level list.
func LoadExperiences(path string) ([]Experience, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("retrieval: read corpus %s: %w", path, err)
	}

	var out []Experience
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &out)
	default:
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: parse corpus %s: %w", path, err)
	}
	return out, nil
}

// Corpus is the keyword-fallback corpus, loaded at most once on first use
// and held for the lifetime of the value. A load failure leaves the corpus
// empty; the fallback then yields no experiences rather than an error.
// Construct one per process and share it by reference.
type Corpus struct {
	load func() ([]Experience, error)

	once    sync.Once
	entries []Experience
}

// NewCorpus returns a Corpus that lazily loads path. An empty path yields
// an always-empty corpus.
func NewCorpus(path string) *Corpus {
	return &Corpus{load: func() ([]Experience, error) {
		if path == "" {
			return nil, nil
		}
		return LoadExperiences(path)
	}}
}

// NewStaticCorpus returns a Corpus over fixed entries.
func NewStaticCorpus(entries []Experience) *Corpus {
	return &Corpus{load: func() ([]Experience, error) { return entries, nil }}
}

// Entries returns the corpus, loading it on the first call.
func (c *Corpus) Entries(ctx context.Context) []Experience {
	c.once.Do(func() {
		entries, err := c.load()
		if err != nil {
			logging.FromContext(ctx).Warn("retrieval: keyword corpus unavailable, fallback will return no experiences",
				slog.String("error", err.Error()),
			)
			return
		}
		c.entries = entries
		logging.FromContext(ctx).Debug("retrieval: keyword corpus loaded", slog.Int("entries", len(entries)))
	})
	return c.entries
}
