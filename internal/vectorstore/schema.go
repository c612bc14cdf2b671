package vectorstore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Metadata keys stored alongside documents. The schema is flat: every value
// is a string, integer, float, or bool.
const (
	KeyExperienceID   = "experience_id"
	KeyTitle          = "title"
	KeyCompany        = "company"
	KeyChunkIndex     = "chunk_index"
	KeyTotalChunks    = "total_chunks"
	KeyStarFormat     = "star_format"
	KeyQAID           = "qa_id"
	KeyQuestion       = "question"
	KeyAnswer         = "answer"
	KeyTags           = "tags"
	KeyCategory       = "category"
	KeyAnswerLength   = "answer_length"
	KeyInterviewMode  = "interview_mode"
	KeyInterviewRound = "interview_round"
	KeyTimestamp      = "timestamp"
	KeyProfileID      = "profile_id"

	// keyLegacyID is the pre-chunking experience identifier some older
	// ingestions wrote instead of experience_id.
	keyLegacyID = "id"
)

// Metadata is the flat key/value map attached to a stored document.
// Backends differ in how they round-trip scalar types (chromem keeps only
// strings, SQLite JSON yields numbers), so the accessors below accept any
// reasonable encoding of the requested type.
type Metadata map[string]any

// String returns the value at key rendered as a string.
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// Int returns the value at key as an integer. Whole floats and numeric
// strings are accepted.
func (m Metadata) Int(key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case float32:
		if float64(t) != math.Trunc(float64(t)) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Has reports whether key is present with a non-nil value.
func (m Metadata) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// ExperienceMeta is the decoded metadata of an experience_store document.
type ExperienceMeta struct {
	ExperienceID int64
	Title        string
	Company      string
	ChunkIndex   int
	TotalChunks  int
	StarFormat   string
}

// DecodeExperience validates and defaults experience metadata. It returns
// false when the grouping key is missing, in which case the document cannot
// take part in deduplication and must be skipped.
func DecodeExperience(m Metadata) (ExperienceMeta, bool) {
	if m == nil {
		return ExperienceMeta{}, false
	}
	id, ok := m.Int(KeyExperienceID)
	if !ok {
		id, ok = m.Int(keyLegacyID)
	}
	if !ok {
		return ExperienceMeta{}, false
	}

	out := ExperienceMeta{ExperienceID: id, TotalChunks: 1}
	out.Title, _ = m.String(KeyTitle)
	out.Company, _ = m.String(KeyCompany)
	out.StarFormat, _ = m.String(KeyStarFormat)
	if v, ok := m.Int(KeyChunkIndex); ok {
		out.ChunkIndex = int(v)
	}
	if v, ok := m.Int(KeyTotalChunks); ok && v > 0 {
		out.TotalChunks = int(v)
	}
	return out, true
}

// Encode renders experience metadata for storage.
func (e ExperienceMeta) Encode() Metadata {
	return Metadata{
		KeyExperienceID: e.ExperienceID,
		KeyTitle:        e.Title,
		KeyCompany:      e.Company,
		KeyChunkIndex:   int64(e.ChunkIndex),
		KeyTotalChunks:  int64(e.TotalChunks),
		KeyStarFormat:   e.StarFormat,
	}
}

// QAMeta is the decoded metadata of a technical_qa document.
type QAMeta struct {
	QAID        string
	Question    string
	Answer      string
	Tags        string
	Category    string
	ChunkIndex  int
	TotalChunks int
}

// DecodeQA defaults technical Q&A metadata. A missing qa_id yields an empty
// QAID; callers fall back to the document ID for deduplication.
func DecodeQA(m Metadata) QAMeta {
	out := QAMeta{TotalChunks: 1}
	if m == nil {
		return out
	}
	out.QAID, _ = m.String(KeyQAID)
	out.Question, _ = m.String(KeyQuestion)
	out.Answer, _ = m.String(KeyAnswer)
	out.Tags, _ = m.String(KeyTags)
	out.Category, _ = m.String(KeyCategory)
	if v, ok := m.Int(KeyChunkIndex); ok {
		out.ChunkIndex = int(v)
	}
	if v, ok := m.Int(KeyTotalChunks); ok && v > 0 {
		out.TotalChunks = int(v)
	}
	return out
}

// Encode renders Q&A metadata for storage.
func (q QAMeta) Encode() Metadata {
	return Metadata{
		KeyQAID:        q.QAID,
		KeyQuestion:    q.Question,
		KeyAnswer:      q.Answer,
		KeyTags:        q.Tags,
		KeyCategory:    q.Category,
		KeyChunkIndex:  int64(q.ChunkIndex),
		KeyTotalChunks: int64(q.TotalChunks),
	}
}

// Response cache metadata defaults.
const (
	DefaultInterviewMode  = "qa"
	DefaultInterviewRound = 1
)

// ResponseMeta is the decoded metadata of a response_store document.
type ResponseMeta struct {
	Question       string
	AnswerLength   int
	InterviewMode  string
	InterviewRound int
	Timestamp      int64
	ProfileID      string
}

// DecodeResponse defaults response cache metadata. Absent profile_id
// decodes to "" (unscoped); absent round decodes to DefaultInterviewRound.
func DecodeResponse(m Metadata) ResponseMeta {
	out := ResponseMeta{
		InterviewMode:  DefaultInterviewMode,
		InterviewRound: DefaultInterviewRound,
	}
	if m == nil {
		return out
	}
	out.Question, _ = m.String(KeyQuestion)
	if v, ok := m.String(KeyInterviewMode); ok && v != "" {
		out.InterviewMode = v
	}
	if v, ok := m.Int(KeyInterviewRound); ok {
		out.InterviewRound = int(v)
	}
	if v, ok := m.Int(KeyAnswerLength); ok {
		out.AnswerLength = int(v)
	}
	if v, ok := m.Int(KeyTimestamp); ok {
		out.Timestamp = v
	}
	out.ProfileID, _ = m.String(KeyProfileID)
	return out
}

// Encode renders response metadata for storage.
func (r ResponseMeta) Encode() Metadata {
	return Metadata{
		KeyQuestion:       r.Question,
		KeyAnswerLength:   int64(r.AnswerLength),
		KeyInterviewMode:  r.InterviewMode,
		KeyInterviewRound: int64(r.InterviewRound),
		KeyTimestamp:      r.Timestamp,
		KeyProfileID:      r.ProfileID,
	}
}
