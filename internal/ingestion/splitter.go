package ingestion

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters for experience descriptions and long answers.
const (
	DefaultChunkSize    = 300
	DefaultChunkOverlap = 50
)

// DefaultSeparators are tried in order, coarsest first. The empty separator
// splits into single characters and always applies.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter is a recursive character text splitter. It splits on the
// coarsest separator present in the text, merges the pieces back into
// chunks of at most Size characters with up to Overlap characters carried
// between neighbours, and recurses with finer separators into any piece
// that is still too long. Lengths are counted in runes.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewSplitter returns a Splitter with DefaultSeparators. Out-of-range
// parameters fall back to the defaults.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(DefaultChunkOverlap, size/2)
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split returns the chunks of text. Blank text yields no chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var finer []string
	for i, c := range seps {
		if c == "" {
			sep = c
			break
		}
		if strings.Contains(text, c) {
			sep = c
			finer = seps[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeepSeparator(text, sep) {
		if utf8.RuneCountInString(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(finer) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, finer)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge packs pieces into chunks no longer than Size where possible,
// keeping up to Overlap characters of the previous chunk at the start of
// the next.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out   []string
		cur   []string
		total int
	)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > s.Size && len(cur) > 0 {
			if doc := joinChunk(cur); doc != "" {
				out = append(out, doc)
			}
			for len(cur) > 0 && (total > s.Overlap || total+n > s.Size) {
				total -= utf8.RuneCountInString(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += n
	}
	if doc := joinChunk(cur); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeepSeparator splits text on sep, attaching each separator to the
// start of the piece that follows it. Empty pieces are dropped.
func splitKeepSeparator(text, sep string) []string {
	var raw []string
	if sep == "" {
		raw = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			raw = append(raw, string(r))
		}
	} else {
		parts := strings.Split(text, sep)
		raw = make([]string, 0, len(parts))
		raw = append(raw, parts[0])
		for _, p := range parts[1:] {
			raw = append(raw, sep+p)
		}
	}

	out := raw[:0]
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinChunk(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}
