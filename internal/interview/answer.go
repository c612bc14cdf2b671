// Package interview answers interview questions in the candidate's voice.
// An Answerer first consults the response cache; on a miss it grounds the
// chat model in retrieved experiences and technical Q&A, then caches the
// generated answer for the next time the question comes up.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/recall-go/internal/budget"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/responsecache"
	"github.com/54b3r/recall-go/internal/retrieval"
)

// ErrEmptyQuestion is returned when the question is blank.
var ErrEmptyQuestion = errors.New("interview: question must not be empty")

// Answer modes.
const (
	ModeQA         = "qa"
	ModeBehavioral = "behavioral"
	ModeTechnical  = "technical"
)

const systemPrompt = `You are the candidate in a job interview. Answer the interviewer's
question in the first person, as yourself, in a natural spoken register.

Ground every claim in the experiences and technical notes provided below.
Do not invent employers, projects, numbers, or outcomes that are not in
them. If nothing relevant is provided, answer from general knowledge and
keep it brief.

Keep answers under two minutes when spoken aloud.`

// modeGuidance is appended to the system prompt for each mode.
var modeGuidance = map[string]string{
	ModeBehavioral: "Structure the answer as a STAR story: situation, task, action, result. Lead with the result when it is quantified.",
	ModeTechnical:  "Explain the concept precisely, then tie it to a concrete time you applied it.",
}

// Backend is the retrieval and cache surface the Answerer needs.
// *recall.Service satisfies it.
type Backend interface {
	RetrieveExperiences(ctx context.Context, query string, topK int) []string
	RetrieveTechnicalQA(ctx context.Context, query string, topK int) []retrieval.QAPair
	CacheLookup(ctx context.Context, question string, opts responsecache.LookupOptions) (*responsecache.Hit, error)
	CacheStore(ctx context.Context, question, answer string, opts responsecache.StoreOptions) (string, error)
}

// Config holds the dependencies required to construct an Answerer.
type Config struct {
	Backend   Backend
	ChatModel model.BaseChatModel

	// TopK is the number of experiences and Q&A pairs retrieved on a cache
	// miss. Zero uses the backend default.
	TopK int

	// MaxContextTokens bounds the estimated prompt size. Retrieved snippets
	// are dropped lowest-ranked first to fit. Defaults to
	// budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Request is one question to answer.
type Request struct {
	Question string
	// Mode selects the answer style. Empty means ModeQA.
	Mode string
	// Round scopes the cache. Zero matches any round on lookup and stores
	// round 1.
	Round int
	// ProfileID scopes the cache to one candidate profile.
	ProfileID string
	// Threshold overrides the cache similarity threshold when non-zero.
	Threshold float64
}

// Sources lists the context the model saw.
type Sources struct {
	Experiences []string
	TechnicalQA []retrieval.QAPair
}

// Response is an answer and where it came from.
type Response struct {
	Answer string
	// Cached is true when the answer came from the response cache.
	Cached bool
	// Similarity is the cache similarity on a hit.
	Similarity float64
	// CacheID is the id of the cache entry served or written. Empty when
	// the write failed.
	CacheID string
	Sources Sources
}

// Answerer produces interview answers.
type Answerer struct {
	backend          Backend
	chatModel        model.BaseChatModel
	topK             int
	maxContextTokens int
}

// New constructs an Answerer from cfg.
func New(cfg *Config) (*Answerer, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("interview: Backend must not be nil")
	}
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("interview: ChatModel must not be nil")
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Answerer{
		backend:          cfg.Backend,
		chatModel:        cfg.ChatModel,
		topK:             cfg.TopK,
		maxContextTokens: maxCtx,
	}, nil
}

// Answer returns a cached answer when one is close enough, otherwise it
// generates a new one and caches it. A failed cache write is logged and
// does not fail the call.
func (a *Answerer) Answer(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	log := logging.FromContext(ctx)

	lookup := responsecache.LookupOptions{Threshold: req.Threshold, ProfileID: req.ProfileID}
	if req.Round > 0 {
		round := req.Round
		lookup.Round = &round
	}
	hit, err := a.backend.CacheLookup(ctx, question, lookup)
	if err != nil {
		return nil, fmt.Errorf("interview: cache lookup: %w", err)
	}
	if hit != nil {
		log.Debug("interview: served from cache",
			slog.String("cache_id", hit.ID),
			slog.Float64("similarity", hit.Similarity),
		)
		return &Response{Answer: hit.Answer, Cached: true, Similarity: hit.Similarity, CacheID: hit.ID}, nil
	}

	src := a.retrieve(ctx, question)
	messages := a.buildMessages(ctx, question, req.Mode, &src)

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "interview_answer",
		Type:      "Answerer",
		Component: components.ComponentOfChatModel,
	})
	out, err := a.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("interview: generate: %w", err)
	}
	answer := strings.TrimSpace(out.Content)
	if answer == "" {
		return nil, fmt.Errorf("interview: model returned an empty answer")
	}

	resp := &Response{Answer: answer, Sources: src}
	id, err := a.backend.CacheStore(ctx, question, answer, responsecache.StoreOptions{
		Mode:      req.Mode,
		Round:     req.Round,
		ProfileID: req.ProfileID,
	})
	if err != nil {
		log.Warn("interview: failed to cache answer", slog.Any("error", err))
	} else {
		resp.CacheID = id
	}
	return resp, nil
}

// retrieve fetches experiences and technical Q&A concurrently. Neither
// retriever fails, so the group never returns an error.
func (a *Answerer) retrieve(ctx context.Context, question string) Sources {
	var src Sources
	var g errgroup.Group
	g.Go(func() error {
		src.Experiences = a.backend.RetrieveExperiences(ctx, question, a.topK)
		return nil
	})
	g.Go(func() error {
		src.TechnicalQA = a.backend.RetrieveTechnicalQA(ctx, question, a.topK)
		return nil
	})
	_ = g.Wait()
	return src
}

// buildMessages assembles the prompt. Experiences rank ahead of technical
// Q&A; snippets that do not fit the budget are dropped from the tail and
// removed from src so Sources reflects what the model saw.
func (a *Answerer) buildMessages(ctx context.Context, question, mode string, src *Sources) []*schema.Message {
	prompt := systemPrompt
	if g, ok := modeGuidance[mode]; ok {
		prompt += "\n\n" + g
	}
	fixed := []*schema.Message{
		schema.SystemMessage(prompt),
		schema.UserMessage(question),
	}

	snippets := make([]string, 0, len(src.Experiences)+len(src.TechnicalQA))
	snippets = append(snippets, src.Experiences...)
	for _, qa := range src.TechnicalQA {
		snippets = append(snippets, formatQA(qa))
	}
	kept := budget.FitSnippets(fixed, snippets, a.maxContextTokens)
	if dropped := len(snippets) - len(kept); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped retrieved snippets to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(kept)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	nExp := min(len(kept), len(src.Experiences))
	src.Experiences = src.Experiences[:nExp]
	src.TechnicalQA = src.TechnicalQA[:len(kept)-nExp]

	messages := []*schema.Message{fixed[0]}
	if c := buildContext(src.Experiences, kept[nExp:]); c != "" {
		messages = append(messages, schema.SystemMessage(c))
	}
	return append(messages, fixed[1])
}

// buildContext formats the retained snippets into one system message.
func buildContext(experiences, qa []string) string {
	var sb strings.Builder
	if len(experiences) > 0 {
		sb.WriteString("## Your Experiences\n\n")
		for _, e := range experiences {
			sb.WriteString(e)
			sb.WriteString("\n\n")
		}
	}
	if len(qa) > 0 {
		sb.WriteString("## Technical Notes\n\n")
		for _, q := range qa {
			sb.WriteString(q)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

func formatQA(p retrieval.QAPair) string {
	return "Q: " + p.Question + "\nA: " + p.Answer
}
