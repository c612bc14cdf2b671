// Package mcptools exposes the recall service to MCP clients such as
// desktop assistants and editor agents. Every tool returns JSON text so
// clients can parse results without a schema of their own.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/54b3r/recall-go/internal/interview"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/responsecache"
	"github.com/54b3r/recall-go/internal/retrieval"
	"github.com/54b3r/recall-go/internal/version"
)

// maxTopK caps the number of results a client may request.
const maxTopK = 20

// Backend is the retrieval and cache surface the tools call.
// *recall.Service satisfies it.
type Backend interface {
	RetrieveExperienceChunks(ctx context.Context, query string, topK int) []retrieval.ExperienceChunk
	RetrieveTechnicalQA(ctx context.Context, query string, topK int) []retrieval.QAPair
	CacheLookup(ctx context.Context, question string, opts responsecache.LookupOptions) (*responsecache.Hit, error)
	CacheStore(ctx context.Context, question, answer string, opts responsecache.StoreOptions) (string, error)
	CacheClear(ctx context.Context, f responsecache.ClearFilter) (int, error)
}

// Answerer generates interview answers. *interview.Answerer satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req interview.Request) (*interview.Response, error)
}

// Deps holds the collaborators of the MCP server.
type Deps struct {
	Backend Backend
	// Answerer is optional. When set the answer_question tool is registered.
	Answerer Answerer
	Logger   *slog.Logger
}

// NewServer builds an MCP server with the recall tools registered.
func NewServer(deps Deps) (*server.MCPServer, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("mcptools: Backend must not be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := server.NewMCPServer(
		"recall",
		version.Version,
		server.WithToolCapabilities(false),
		server.WithInstructions("recall: the candidate's experiences, technical notes, and previously given interview answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("retrieve_experiences",
			mcp.WithDescription("Find the candidate's past experiences most relevant to an interview question, formatted as STAR stories."),
			mcp.WithString("query", mcp.Description("The interview question or topic"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of experiences (default 3)")),
		),
		retrieveExperiences(deps),
	)
	s.AddTool(
		mcp.NewTool("retrieve_technical_qa",
			mcp.WithDescription("Find prepared technical question and answer pairs relevant to a query."),
			mcp.WithString("query", mcp.Description("The technical question or topic"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of pairs (default 3)")),
		),
		retrieveTechnicalQA(deps),
	)
	s.AddTool(
		mcp.NewTool("cache_lookup",
			mcp.WithDescription("Return a previously given answer to a semantically similar question, if one exists."),
			mcp.WithString("question", mcp.Description("The interviewer's question"), mcp.Required()),
			mcp.WithNumber("threshold", mcp.Description("Minimum similarity in (0,1] (default 0.85). An empty profile_id matches every profile.")),
			mcp.WithNumber("round", mcp.Description("Only match answers given in this interview round")),
			mcp.WithString("profile_id", mcp.Description("Only match answers for this candidate profile")),
		),
		cacheLookup(deps),
	)
	s.AddTool(
		mcp.NewTool("cache_store",
			mcp.WithDescription("Remember an answer so the same question can be answered consistently later."),
			mcp.WithString("question", mcp.Description("The interviewer's question"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The answer given"), mcp.Required()),
			mcp.WithString("mode", mcp.Description("Answer mode: qa, behavioral, or technical")),
			mcp.WithNumber("round", mcp.Description("Interview round (default 1)")),
			mcp.WithString("profile_id", mcp.Description("Candidate profile")),
		),
		cacheStore(deps),
	)
	s.AddTool(
		mcp.NewTool("cache_clear",
			mcp.WithDescription("Delete remembered answers. With no filters every answer is deleted."),
			mcp.WithNumber("round", mcp.Description("Only delete answers from this round")),
			mcp.WithString("profile_id", mcp.Description("Only delete answers for this profile")),
		),
		cacheClear(deps),
	)
	if deps.Answerer != nil {
		s.AddTool(
			mcp.NewTool("answer_question",
				mcp.WithDescription("Answer an interview question in the candidate's voice, reusing a remembered answer when one matches."),
				mcp.WithString("question", mcp.Description("The interviewer's question"), mcp.Required()),
				mcp.WithString("mode", mcp.Description("Answer mode: qa, behavioral, or technical")),
				mcp.WithNumber("round", mcp.Description("Interview round")),
				mcp.WithString("profile_id", mcp.Description("Candidate profile")),
			),
			answerQuestion(deps),
		)
	}
	return s, nil
}

type experienceResult struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Company    string   `json:"company,omitempty"`
	StarFormat string   `json:"star_format"`
	Score      *float64 `json:"score,omitempty"`
}

type qaResult struct {
	ID       string   `json:"id,omitempty"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Score    *float64 `json:"score,omitempty"`
}

func retrieveExperiences(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return toolError("query is required"), nil
		}
		chunks := deps.Backend.RetrieveExperienceChunks(ctx, query, topK(req))
		out := make([]experienceResult, 0, len(chunks))
		for _, c := range chunks {
			out = append(out, experienceResult{
				ID:         c.ExperienceID,
				Title:      c.Title,
				Company:    c.Company,
				StarFormat: c.Formatted(),
				Score:      c.Score,
			})
		}
		return toolJSON(out)
	}
}

func retrieveTechnicalQA(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return toolError("query is required"), nil
		}
		pairs := deps.Backend.RetrieveTechnicalQA(ctx, query, topK(req))
		return toolJSON(toQAResults(pairs))
	}
}

type lookupResult struct {
	Hit            bool    `json:"hit"`
	ID             string  `json:"id,omitempty"`
	Answer         string  `json:"answer,omitempty"`
	Similarity     float64 `json:"similarity,omitempty"`
	StoredQuestion string  `json:"stored_question,omitempty"`
	Round          int     `json:"round,omitempty"`
	ProfileID      string  `json:"profile_id,omitempty"`
}

func cacheLookup(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return toolError("question is required"), nil
		}
		threshold, ok := optionalThreshold(req)
		if !ok {
			return toolError("threshold must be in (0, 1]"), nil
		}
		hit, err := deps.Backend.CacheLookup(ctx, question, responsecache.LookupOptions{
			Threshold: threshold,
			Round:     optionalInt(req, "round"),
			ProfileID: req.GetString("profile_id", ""),
		})
		if err != nil {
			return toolError(err.Error()), nil
		}
		if hit == nil {
			return toolJSON(lookupResult{})
		}
		return toolJSON(lookupResult{
			Hit:            true,
			ID:             hit.ID,
			Answer:         hit.Answer,
			Similarity:     hit.Similarity,
			StoredQuestion: hit.StoredQuestion,
			Round:          hit.Round,
			ProfileID:      hit.ProfileID,
		})
	}
}

func cacheStore(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return toolError("question is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil || answer == "" {
			return toolError("answer is required"), nil
		}
		id, err := deps.Backend.CacheStore(ctx, question, answer, responsecache.StoreOptions{
			Mode:      req.GetString("mode", ""),
			Round:     req.GetInt("round", 0),
			ProfileID: req.GetString("profile_id", ""),
		})
		if err != nil {
			logging.FromContext(ctx).Warn("mcp: cache store failed", slog.Any("error", err))
			return toolError(fmt.Sprintf("cache store failed: %v", err)), nil
		}
		return toolJSON(map[string]string{"id": id})
	}
}

func cacheClear(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var f responsecache.ClearFilter
		f.Round = optionalInt(req, "round")
		if p, ok := req.GetArguments()["profile_id"].(string); ok {
			f.ProfileID = &p
		}
		n, err := deps.Backend.CacheClear(ctx, f)
		if err != nil {
			return toolError(fmt.Sprintf("cache clear failed: %v", err)), nil
		}
		return toolJSON(map[string]int{"deleted": n})
	}
}

type answerResult struct {
	Answer      string     `json:"answer"`
	Cached      bool       `json:"cached"`
	Similarity  float64    `json:"similarity,omitempty"`
	CacheID     string     `json:"cache_id,omitempty"`
	Experiences []string   `json:"experiences,omitempty"`
	TechnicalQA []qaResult `json:"technical_qa,omitempty"`
}

func answerQuestion(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return toolError("question is required"), nil
		}
		resp, err := deps.Answerer.Answer(ctx, interview.Request{
			Question:  question,
			Mode:      req.GetString("mode", ""),
			Round:     req.GetInt("round", 0),
			ProfileID: req.GetString("profile_id", ""),
		})
		if errors.Is(err, interview.ErrEmptyQuestion) {
			return toolError("question is required"), nil
		}
		if err != nil {
			logging.FromContext(ctx).Error("mcp: answer failed", slog.Any("error", err))
			return toolError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		return toolJSON(answerResult{
			Answer:      resp.Answer,
			Cached:      resp.Cached,
			Similarity:  resp.Similarity,
			CacheID:     resp.CacheID,
			Experiences: resp.Sources.Experiences,
			TechnicalQA: toQAResults(resp.Sources.TechnicalQA),
		})
	}
}

// topK reads the optional top_k argument, clamped to [0, maxTopK]. Zero
// lets the service apply its default.
func topK(req mcp.CallToolRequest) int {
	k := req.GetInt("top_k", 0)
	return max(0, min(k, maxTopK))
}

// optionalInt returns a pointer to the named integer argument, or nil when
// the client omitted it.
func optionalInt(req mcp.CallToolRequest, name string) *int {
	if _, ok := req.GetArguments()[name]; !ok {
		return nil
	}
	v := req.GetInt(name, 0)
	return &v
}

// optionalThreshold returns 0 (the cache default) when threshold is absent.
// A present threshold must be in (0, 1].
func optionalThreshold(req mcp.CallToolRequest) (float64, bool) {
	if _, ok := req.GetArguments()["threshold"]; !ok {
		return 0, true
	}
	v := req.GetFloat("threshold", 0)
	return v, v > 0 && v <= 1
}

func toQAResults(pairs []retrieval.QAPair) []qaResult {
	out := make([]qaResult, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, qaResult{ID: p.QAID, Question: p.Question, Answer: p.Answer, Score: p.Score})
	}
	return out
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return toolText(string(b)), nil
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
