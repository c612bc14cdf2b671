package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/recall-go/internal/embedder"
	"github.com/54b3r/recall-go/internal/interview"
	"github.com/54b3r/recall-go/internal/recall"
	"github.com/54b3r/recall-go/internal/retrieval"
	"github.com/54b3r/recall-go/internal/vectorstore"
)

// fakeAnswerer returns a canned response or error.
type fakeAnswerer struct {
	resp *interview.Response
	err  error
	got  interview.Request
}

func (f *fakeAnswerer) Answer(_ context.Context, req interview.Request) (*interview.Response, error) {
	f.got = req
	return f.resp, f.err
}

// newTestServer builds a Server over a real recall.Service backed by an
// in-memory SQLite store and the hash embedder. Each server gets its own
// metrics registry.
func newTestServer(t *testing.T, answerer Answerer, mutate ...func(*Config)) (*Server, *prometheus.Registry) {
	t.Helper()
	store, err := vectorstore.OpenSQLite(":memory:", vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc, err := recall.New(recall.Options{
		Store:    store,
		Embedder: embedder.NewHashEmbedder(64),
		Corpus: retrieval.NewStaticCorpus([]retrieval.Experience{
			{ID: 1, Title: "Checkout outage", Company: "Acme", Description: "payments database failover", Result: "restored in 40 minutes"},
			{ID: 2, Title: "Hiring loop", Company: "Acme", Description: "redesigned interview process"},
		}),
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("recall.New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	reg := prometheus.NewRegistry()
	cfg := &Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		RateLimit:       1000,
		RateBurst:       1000,
	}
	for _, m := range mutate {
		m(cfg)
	}
	s, err := New(svc, answerer, cfg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, reg
}

// do sends a request through the full router and returns the recorder.
func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "127.0.0.1:40000"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func Test_Retrieve_KeywordFallback(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	for _, path := range []string{"/api/retrieve", "/retrieve"} {
		w := do(t, s, http.MethodPost, path, `{"query":"tell me about a payments database failover","top_k":1}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d, body %s", path, w.Code, w.Body.String())
		}
		resp := decode[retrieveResponse](t, w)
		if len(resp.Experiences) != 1 {
			t.Fatalf("%s: want 1 experience, got %+v", path, resp.Experiences)
		}
		e := resp.Experiences[0]
		if e.ID != 1 || e.Company != "Acme" || !strings.Contains(e.StarFormat, "restored in 40 minutes") {
			t.Errorf("%s: experience = %+v", path, e)
		}
	}
}

func Test_Retrieve_BadRequests(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	cases := map[string]string{
		"blank query":  `{"query":"   "}`,
		"invalid json": `{"query":`,
	}
	for name, body := range cases {
		for _, path := range []string{"/api/retrieve", "/api/qa"} {
			w := do(t, s, http.MethodPost, path, body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s %s: want 400, got %d", name, path, w.Code)
			}
			if decode[errorResponse](t, w).Error == "" {
				t.Errorf("%s %s: empty error message", name, path)
			}
		}
	}
}

func Test_QA_EmptyCollection(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/api/qa", `{"query":"what is a mutex"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	resp := decode[qaResponse](t, w)
	if resp.Pairs == nil || len(resp.Pairs) != 0 {
		t.Errorf("want an empty non-null list, got %s", w.Body.String())
	}
}

func Test_Cache_StoreLookupClear(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	const q = "Why do you want to work here?"

	w := do(t, s, http.MethodPost, "/api/cache/lookup", `{"question":"`+q+`"}`)
	if w.Code != http.StatusOK || decode[cacheLookupResponse](t, w).Hit {
		t.Fatalf("lookup before store: %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodPost, "/api/cache/store", `{"question":"`+q+`","answer":"The mission.","round":2,"profile_id":"p1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("store: %d %s", w.Code, w.Body.String())
	}
	id := decode[cacheStoreResponse](t, w).ID
	if id == "" {
		t.Fatal("store returned an empty id")
	}

	w = do(t, s, http.MethodPost, "/api/cache/lookup", `{"question":"`+q+`","round":2,"profile_id":"p1"}`)
	hit := decode[cacheLookupResponse](t, w)
	if !hit.Hit || hit.ID != id || hit.Answer != "The mission." || hit.Round != 2 || hit.ProfileID != "p1" {
		t.Errorf("lookup after store = %+v", hit)
	}

	w = do(t, s, http.MethodPost, "/api/cache/lookup", `{"question":"`+q+`","round":3,"profile_id":"p1"}`)
	if decode[cacheLookupResponse](t, w).Hit {
		t.Error("lookup in another round should miss")
	}

	w = do(t, s, http.MethodPost, "/api/cache/clear", `{"profile_id":"someone-else"}`)
	if got := decode[cacheClearResponse](t, w).Deleted; got != 0 {
		t.Errorf("clear other profile deleted %d", got)
	}
	w = do(t, s, http.MethodPost, "/api/cache/clear", "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear: %d %s", w.Code, w.Body.String())
	}
	if got := decode[cacheClearResponse](t, w).Deleted; got != 1 {
		t.Errorf("clear all deleted %d, want 1", got)
	}
}

func Test_Cache_Validation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	if w := do(t, s, http.MethodPost, "/api/cache/store", `{"question":"q"}`); w.Code != http.StatusBadRequest {
		t.Errorf("store without answer: want 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/cache/lookup", `{"question":"q","threshold":1.5}`); w.Code != http.StatusBadRequest {
		t.Errorf("lookup with threshold > 1: want 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/cache/clear", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("clear with bad body: want 400, got %d", w.Code)
	}
	withAnswerer, _ := newTestServer(t, &fakeAnswerer{resp: &interview.Response{Answer: "a"}})
	for path, srv := range map[string]*Server{"/api/cache/lookup": s, "/api/answer": withAnswerer} {
		w := do(t, srv, http.MethodPost, path, `{"question":"q","threshold":0}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s with explicit threshold 0: want 400, got %d", path, w.Code)
			continue
		}
		if got := decode[errorResponse](t, w).Error; got != "threshold must be in (0, 1]" {
			t.Errorf("%s: error = %q", path, got)
		}
	}
}

// Test_Cache_ProfileFilterSemantics pins the documented difference: an empty
// profile_id does not filter a lookup but selects unscoped answers on clear.
func Test_Cache_ProfileFilterSemantics(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	const q = "Describe your leadership style."

	for _, body := range []string{
		`{"question":"` + q + `","answer":"scoped","profile_id":"p1"}`,
		`{"question":"` + q + `","answer":"unscoped"}`,
	} {
		if w := do(t, s, http.MethodPost, "/api/cache/store", body); w.Code != http.StatusCreated {
			t.Fatalf("store: %d %s", w.Code, w.Body.String())
		}
	}

	w := do(t, s, http.MethodPost, "/api/cache/lookup", `{"question":"`+q+`","profile_id":"","threshold":0.5}`)
	if !decode[cacheLookupResponse](t, w).Hit {
		t.Error("empty profile_id lookup should match any profile")
	}

	w = do(t, s, http.MethodPost, "/api/cache/clear", `{"profile_id":""}`)
	if got := decode[cacheClearResponse](t, w).Deleted; got != 1 {
		t.Errorf("clear with empty profile_id deleted %d, want only the unscoped answer", got)
	}
	w = do(t, s, http.MethodPost, "/api/cache/lookup", `{"question":"`+q+`","profile_id":"p1","threshold":0.5}`)
	if hit := decode[cacheLookupResponse](t, w); !hit.Hit || hit.Answer != "scoped" {
		t.Errorf("scoped answer should survive, got %+v", hit)
	}
}

func Test_Answer_Outcomes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		answerer *fakeAnswerer
		want     int
		outcome  string
	}{
		{"generated", &fakeAnswerer{resp: &interview.Response{Answer: "fresh", CacheID: "c1"}}, http.StatusOK, "generated"},
		{"cached", &fakeAnswerer{resp: &interview.Response{Answer: "old", Cached: true, Similarity: 0.97}}, http.StatusOK, "cached"},
		{"invalid", &fakeAnswerer{err: interview.ErrEmptyQuestion}, http.StatusBadRequest, "invalid"},
		{"timeout", &fakeAnswerer{err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "timeout"},
		{"error", &fakeAnswerer{err: errors.New("provider down")}, http.StatusBadGateway, "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, reg := newTestServer(t, tc.answerer)
			w := do(t, s, http.MethodPost, "/api/answer", `{"question":"q","mode":"behavioral","round":1,"profile_id":"p"}`)
			if w.Code != tc.want {
				t.Fatalf("want %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if tc.answerer.got.Mode != interview.ModeBehavioral || tc.answerer.got.Round != 1 || tc.answerer.got.ProfileID != "p" {
				t.Errorf("request not forwarded intact: %+v", tc.answerer.got)
			}
			if v := counterValue(t, reg, "recall_answer_requests_total", "outcome", tc.outcome); v != 1 {
				t.Errorf("outcome %q counter = %v, want 1", tc.outcome, v)
			}
		})
	}
}

func Test_Answer_NotConfigured(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	if w := do(t, s, http.MethodPost, "/api/answer", `{"question":"q"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("want 503, got %d", w.Code)
	}
}

func Test_Router_AuthScope(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil, func(c *Config) { c.APIKey = "k" })

	if w := do(t, s, http.MethodPost, "/api/retrieve", `{"query":"x"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated retrieve: want 401, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/retrieve", `{"query":"x"}`, "Authorization", "Bearer k"); w.Code != http.StatusOK {
		t.Errorf("authenticated retrieve: want 200, got %d", w.Code)
	}
	for _, path := range []string{"/api/health", "/health", "/api/ready", "/metrics"} {
		if w := do(t, s, http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Errorf("%s should bypass auth, got %d", path, w.Code)
		}
	}
}

func Test_Router_CORS(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil, func(c *Config) { c.CORSOrigins = []string{"http://localhost:3000"} })

	w := do(t, s, http.MethodOptions, "/api/retrieve", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "POST",
	)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: want 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	w = do(t, s, http.MethodGet, "/api/health", "", "Origin", "http://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin allowed: %q", got)
	}
}

func Test_Router_RequestID(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	if w := do(t, s, http.MethodGet, "/api/health", "", requestIDHeader, "abc-123"); w.Header().Get(requestIDHeader) != "abc-123" {
		t.Errorf("caller request id not echoed: %q", w.Header().Get(requestIDHeader))
	}
	if w := do(t, s, http.MethodGet, "/api/health", ""); w.Header().Get(requestIDHeader) == "" {
		t.Error("no request id generated")
	}
}

func Test_New_RejectsNilBackend(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil, nil); err == nil {
		t.Error("want error for nil backend")
	}
}
