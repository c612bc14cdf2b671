package ingestion

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/recall-go/internal/retrieval"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

// Metadata length limits for technical Q&A documents.
const (
	maxMetaQuestion = 200
	maxMetaAnswer   = 500
	// longAnswer is the answer length above which the answer is chunked.
	longAnswer = 500
)

// Document is one chunk ready to embed and store.
type Document struct {
	ID       string
	Text     string
	Metadata vectorstore.Metadata
}

// ExperienceDocuments chunks e's description. Each chunk is prefixed with
// the title and company. An experience without a description becomes a
// single chunk holding its full situation, task, action, and result. Every
// chunk carries the STAR block of the whole experience.
func ExperienceDocuments(e retrieval.Experience, sp *Splitter) []Document {
	var texts []string
	for _, c := range sp.Split(e.Description) {
		texts = append(texts, fmt.Sprintf("Title: %s\nCompany: %s\nDescription: %s", e.Title, e.Company, c))
	}
	if len(texts) == 0 {
		texts = []string{fmt.Sprintf("Title: %s\nCompany: %s\nSituation: %s\nTask: %s\nAction: %s\nResult: %s",
			e.Title, e.Company, e.Situation, e.Task, e.Action, e.Result)}
	}

	star := retrieval.FormatSTAR(e)
	docs := make([]Document, len(texts))
	for i, t := range texts {
		docs[i] = Document{
			ID:   fmt.Sprintf("exp_%d_chunk_%d", e.ID, i),
			Text: t,
			Metadata: vectorstore.ExperienceMeta{
				ExperienceID: e.ID,
				Title:        e.Title,
				Company:      e.Company,
				ChunkIndex:   i,
				TotalChunks:  len(texts),
				StarFormat:   star,
			}.Encode(),
		}
	}
	return docs
}

// QADocuments builds the documents for one Q&A pair. position is the
// 1-based index in the source file, used when the pair has no id. Answers
// longer than 500 characters are chunked; shorter ones become one document.
func QADocuments(qa TechnicalQA, position int, sp *Splitter) []Document {
	id := string(qa.ID)
	if id == "" {
		id = strconv.Itoa(position)
	}
	tags := strings.Join(qa.Tags, ", ")

	meta := func(index, total int) vectorstore.Metadata {
		return vectorstore.QAMeta{
			QAID:        id,
			Question:    truncate(qa.Question, maxMetaQuestion),
			Answer:      truncate(qa.Answer, maxMetaAnswer),
			Tags:        tags,
			Category:    qa.Category,
			ChunkIndex:  index,
			TotalChunks: total,
		}.Encode()
	}

	if utf8.RuneCountInString(qa.Answer) <= longAnswer {
		parts := []string{"Question: " + qa.Question, "Answer: " + qa.Answer}
		if tags != "" {
			parts = append(parts, "Tags: "+tags)
		}
		if qa.Category != "" {
			parts = append(parts, "Category: "+qa.Category)
		}
		return []Document{{
			ID:       "qa_" + id,
			Text:     strings.Join(parts, "\n\n"),
			Metadata: meta(0, 1),
		}}
	}

	chunks := sp.Split(qa.Answer)
	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		var b strings.Builder
		fmt.Fprintf(&b, "Question: %s\n\nAnswer (part %d): %s", qa.Question, i+1, c)
		if tags != "" {
			b.WriteString("\n\nTags: " + tags)
		}
		if qa.Category != "" {
			b.WriteString("\nCategory: " + qa.Category)
		}
		docs[i] = Document{
			ID:       fmt.Sprintf("qa_%s_chunk_%d", id, i),
			Text:     b.String(),
			Metadata: meta(i, len(chunks)),
		}
	}
	return docs
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
