package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/recall-go/internal/interview"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/responsecache"
	"github.com/54b3r/recall-go/internal/retrieval"
)

// maxBodySize bounds every JSON request body.
const maxBodySize = 1 << 20

// decodeJSON reads r's body into v, replying 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// requestThreshold resolves an optional threshold field. Absent means 0,
// which the cache replaces with its default; an explicit 0 is rejected
// rather than silently widened to the default.
func requestThreshold(w http.ResponseWriter, r *http.Request, p *float64) (float64, bool) {
	if p == nil {
		return 0, true
	}
	if *p <= 0 || *p > 1 {
		writeError(w, r, http.StatusBadRequest, "threshold must be in (0, 1]")
		return 0, false
	}
	return *p, true
}

// handleRetrieve handles POST /api/retrieve. It never fails for a
// well-formed body: vector search problems degrade to keyword matching.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}

	chunks := s.backend.RetrieveExperienceChunks(r.Context(), req.Query, req.TopK)
	resp := retrieveResponse{Experiences: make([]experienceJSON, 0, len(chunks))}
	for _, c := range chunks {
		resp.Experiences = append(resp.Experiences, experienceJSON{
			ID:         c.ExperienceID,
			Title:      c.Title,
			Company:    c.Company,
			StarFormat: c.Formatted(),
			Score:      c.Score,
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleQA handles POST /api/qa.
func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}
	pairs := s.backend.RetrieveTechnicalQA(r.Context(), req.Query, req.TopK)
	writeJSON(w, r, http.StatusOK, qaResponse{Pairs: toQAJSON(pairs)})
}

// handleCacheLookup handles POST /api/cache/lookup. A miss is a 200 with
// hit:false. An empty profile_id does not filter; see cacheLookupRequest.
func (s *Server) handleCacheLookup(w http.ResponseWriter, r *http.Request) {
	var req cacheLookupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	threshold, ok := requestThreshold(w, r, req.Threshold)
	if !ok {
		return
	}
	hit, err := s.backend.CacheLookup(r.Context(), req.Question, responsecache.LookupOptions{
		Threshold: threshold,
		Round:     req.Round,
		ProfileID: req.ProfileID,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if hit == nil {
		writeJSON(w, r, http.StatusOK, cacheLookupResponse{})
		return
	}
	writeJSON(w, r, http.StatusOK, cacheLookupResponse{
		Hit:            true,
		ID:             hit.ID,
		Answer:         hit.Answer,
		Similarity:     hit.Similarity,
		StoredQuestion: hit.StoredQuestion,
		Round:          hit.Round,
		ProfileID:      hit.ProfileID,
	})
}

// handleCacheStore handles POST /api/cache/store.
func (s *Server) handleCacheStore(w http.ResponseWriter, r *http.Request) {
	var req cacheStoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" || req.Answer == "" {
		writeError(w, r, http.StatusBadRequest, "question and answer are required")
		return
	}
	id, err := s.backend.CacheStore(r.Context(), req.Question, req.Answer, responsecache.StoreOptions{
		Mode:      req.Mode,
		Round:     req.Round,
		ProfileID: req.ProfileID,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("cache store failed", slog.Any("error", err))
		writeError(w, r, http.StatusBadGateway, "cache store failed")
		return
	}
	writeJSON(w, r, http.StatusCreated, cacheStoreResponse{ID: id})
}

// handleCacheClear handles POST /api/cache/clear. An empty body clears
// every cached answer; profile_id "" clears only unscoped ones.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var req cacheClearRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := s.backend.CacheClear(r.Context(), responsecache.ClearFilter{
		ProfileID: req.ProfileID,
		Round:     req.Round,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("cache clear failed", slog.Any("error", err))
		writeError(w, r, http.StatusBadGateway, "cache clear failed")
		return
	}
	writeJSON(w, r, http.StatusOK, cacheClearResponse{Deleted: n})
}

// handleAnswer handles POST /api/answer, bounded by AnswerTimeout.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "answer generation is not configured")
		return
	}
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	threshold, ok := requestThreshold(w, r, req.Threshold)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AnswerTimeout)
	defer cancel()

	resp, err := s.answerer.Answer(ctx, interview.Request{
		Question:  req.Question,
		Mode:      req.Mode,
		Round:     req.Round,
		ProfileID: req.ProfileID,
		Threshold: threshold,
	})
	switch {
	case errors.Is(err, interview.ErrEmptyQuestion):
		s.metrics.answerRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, r, http.StatusBadRequest, "question is required")
		return
	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.answerRequestsTotal.WithLabelValues("timeout").Inc()
		writeError(w, r, http.StatusGatewayTimeout, "answer generation timed out")
		return
	case err != nil:
		s.metrics.answerRequestsTotal.WithLabelValues("error").Inc()
		logging.FromContext(r.Context()).Error("answer failed", slog.Any("error", err))
		writeError(w, r, http.StatusBadGateway, "answer generation failed")
		return
	}

	outcome := "generated"
	if resp.Cached {
		outcome = "cached"
	}
	s.metrics.answerRequestsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, r, http.StatusOK, answerResponse{
		Answer:      resp.Answer,
		Cached:      resp.Cached,
		Similarity:  resp.Similarity,
		CacheID:     resp.CacheID,
		Experiences: resp.Sources.Experiences,
		TechnicalQA: toQAJSON(resp.Sources.TechnicalQA),
	})
}

func toQAJSON(pairs []retrieval.QAPair) []qaJSON {
	out := make([]qaJSON, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, qaJSON{ID: p.QAID, Question: p.Question, Answer: p.Answer, Score: p.Score})
	}
	return out
}
