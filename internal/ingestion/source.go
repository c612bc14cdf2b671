package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/recall-go/internal/retrieval"
)

// LoadExperiences reads an experience corpus. It is the same file the
// keyword fallback reads.
func LoadExperiences(path string) ([]retrieval.Experience, error) {
	out, err := retrieval.LoadExperiences(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	return out, nil
}

// QAID is a technical Q&A identifier. Source files use either numbers or
// strings; both decode to the same textual form.
type QAID string

// UnmarshalJSON accepts a JSON string or number.
func (id *QAID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = QAID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("qa id: %w", err)
	}
	*id = QAID(n.String())
	return nil
}

// TechnicalQA is one record of the technical Q&A source file.
type TechnicalQA struct {
	ID       QAID     `json:"id" yaml:"id"`
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
}

// LoadTechnicalQA reads a Q&A file, YAML for .yaml/.yml and JSON otherwise.
// A missing file is an empty set, not an error.
func LoadTechnicalQA(path string) ([]TechnicalQA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ingestion: read %s: %w", path, err)
	}

	var out []TechnicalQA
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &out)
	default:
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("ingestion: parse %s: %w", path, err)
	}
	return out, nil
}
