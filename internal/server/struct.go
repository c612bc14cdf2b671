package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/recall-go/internal/interview"
	"github.com/54b3r/recall-go/internal/responsecache"
	"github.com/54b3r/recall-go/internal/retrieval"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AnswerTimeout bounds one POST /api/answer call, generation included.
	// Defaults to 2 minutes.
	AnswerTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /api/*
	// routes (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/* routes except the
	// health probes. If empty, authentication is disabled.
	APIKey string
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Backend is the retrieval and cache surface the handlers call.
// *recall.Service satisfies it.
type Backend interface {
	RetrieveExperienceChunks(ctx context.Context, query string, topK int) []retrieval.ExperienceChunk
	RetrieveTechnicalQA(ctx context.Context, query string, topK int) []retrieval.QAPair
	CacheLookup(ctx context.Context, question string, opts responsecache.LookupOptions) (*responsecache.Hit, error)
	CacheStore(ctx context.Context, question, answer string, opts responsecache.StoreOptions) (string, error)
	CacheClear(ctx context.Context, f responsecache.ClearFilter) (int, error)
}

// Answerer produces interview answers for POST /api/answer.
// *interview.Answerer satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req interview.Request) (*interview.Response, error)
}

// Server is the HTTP server that exposes the recall service.
type Server struct {
	// backend serves retrieval and cache requests.
	backend Backend
	// answerer serves POST /api/answer. Nil disables the endpoint.
	answerer Answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// handler is the fully wrapped router.
	handler http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
}

// retrieveRequest is the JSON body for POST /api/retrieve and POST /api/qa.
type retrieveRequest struct {
	Query string `json:"query"`
	// TopK defaults to the service default when zero.
	TopK int `json:"top_k"`
}

// experienceJSON is one experience in a retrieve response.
type experienceJSON struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Company    string   `json:"company"`
	StarFormat string   `json:"star_format"`
	Score      *float64 `json:"score,omitempty"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	Experiences []experienceJSON `json:"experiences"`
}

// qaJSON is one technical Q&A pair.
type qaJSON struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Score    *float64 `json:"score,omitempty"`
}

// qaResponse is the JSON response for POST /api/qa.
type qaResponse struct {
	Pairs []qaJSON `json:"pairs"`
}

// cacheLookupRequest is the JSON body for POST /api/cache/lookup. An absent
// threshold takes the configured default; a present one must be in (0, 1].
// An empty or absent profile_id matches every profile, unlike
// cacheClearRequest where "" selects only unscoped answers.
type cacheLookupRequest struct {
	Question  string   `json:"question"`
	Threshold *float64 `json:"threshold,omitempty"`
	Round     *int     `json:"round,omitempty"`
	ProfileID string   `json:"profile_id,omitempty"`
}

// cacheLookupResponse is the JSON response for POST /api/cache/lookup.
type cacheLookupResponse struct {
	Hit            bool    `json:"hit"`
	ID             string  `json:"id,omitempty"`
	Answer         string  `json:"answer,omitempty"`
	Similarity     float64 `json:"similarity,omitempty"`
	StoredQuestion string  `json:"stored_question,omitempty"`
	Round          int     `json:"round,omitempty"`
	ProfileID      string  `json:"profile_id,omitempty"`
}

// cacheStoreRequest is the JSON body for POST /api/cache/store.
type cacheStoreRequest struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Mode      string `json:"mode,omitempty"`
	Round     int    `json:"round,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
}

// cacheStoreResponse is the JSON response for POST /api/cache/store.
type cacheStoreResponse struct {
	ID string `json:"id"`
}

// cacheClearRequest is the JSON body for POST /api/cache/clear. Absent
// fields match everything. A present profile_id is matched exactly, so ""
// clears only unscoped answers.
type cacheClearRequest struct {
	ProfileID *string `json:"profile_id,omitempty"`
	Round     *int    `json:"round,omitempty"`
}

// cacheClearResponse is the JSON response for POST /api/cache/clear.
type cacheClearResponse struct {
	Deleted int `json:"deleted"`
}

// answerRequest is the JSON body for POST /api/answer.
type answerRequest struct {
	Question  string   `json:"question"`
	Mode      string   `json:"mode,omitempty"`
	Round     int      `json:"round,omitempty"`
	ProfileID string   `json:"profile_id,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// answerResponse is the JSON response for POST /api/answer.
type answerResponse struct {
	Answer      string   `json:"answer"`
	Cached      bool     `json:"cached"`
	Similarity  float64  `json:"similarity,omitempty"`
	CacheID     string   `json:"cache_id,omitempty"`
	Experiences []string `json:"experiences,omitempty"`
	TechnicalQA []qaJSON `json:"technical_qa,omitempty"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}
