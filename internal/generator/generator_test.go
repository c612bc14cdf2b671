package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/recall-go/internal/config"
)

// capturedRequest is the subset of a Messages request the tests inspect.
type capturedRequest struct {
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	Stream      bool     `json:"stream"`
	System      []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func newTestAnthropic(t *testing.T, handler http.HandlerFunc) *AnthropicModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	m, err := NewAnthropic(config.ModelSettings{
		Provider:    ProviderAnthropic,
		Model:       "claude-test",
		APIKey:      "sk-ant-test",
		BaseURL:     srv.URL,
		MaxTokens:   256,
		Temperature: 0.5,
	}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}
	return m
}

func Test_Anthropic_Generate(t *testing.T) {
	t.Parallel()
	var got capturedRequest
	m := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-ant-test" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "I led "}, {"type": "text", "text": "the migration."}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`)
	})

	out, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("You are a candidate."),
		schema.UserMessage("Tell me about a migration."),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Role != schema.Assistant || out.Content != "I led the migration." {
		t.Errorf("message = %+v", out)
	}
	if out.ResponseMeta.FinishReason != "end_turn" || out.ResponseMeta.Usage.TotalTokens != 17 {
		t.Errorf("meta = %+v usage = %+v", out.ResponseMeta, out.ResponseMeta.Usage)
	}

	if got.Model != "claude-test" || got.MaxTokens != 256 {
		t.Errorf("request model=%q max_tokens=%d", got.Model, got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.5 {
		t.Errorf("temperature = %v", got.Temperature)
	}
	if len(got.System) != 1 || got.System[0].Text != "You are a candidate." {
		t.Errorf("system = %+v", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content[0].Text != "Tell me about a migration." {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func Test_Anthropic_OptionsOverride(t *testing.T) {
	t.Parallel()
	var got capturedRequest
	m := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"m","type":"message","role":"assistant","model":"other",
			"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	})
	_, err := m.Generate(context.Background(),
		[]*schema.Message{schema.UserMessage("q")},
		model.WithModel("other"), model.WithMaxTokens(64))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Model != "other" || got.MaxTokens != 64 {
		t.Errorf("request model=%q max_tokens=%d", got.Model, got.MaxTokens)
	}
}

func Test_Anthropic_APIError(t *testing.T) {
	t.Parallel()
	m := newTestAnthropic(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	})
	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")})
	if err == nil {
		t.Fatal("want error")
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("want *anthropic.Error with 400, got %v", err)
	}
}

func Test_Anthropic_RejectsInput(t *testing.T) {
	t.Parallel()
	m := newTestAnthropic(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	cases := map[string][]*schema.Message{
		"system only": {schema.SystemMessage("s")},
		"tool role":   {schema.UserMessage("q"), schema.ToolMessage("result", "call_1")},
	}
	for name, msgs := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := m.Generate(context.Background(), msgs); err == nil {
				t.Error("want error")
			}
		})
	}
}

func Test_Anthropic_Stream(t *testing.T) {
	t.Parallel()
	m := newTestAnthropic(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"message_start","message":{"id":"m","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"usage":{"input_tokens":3,"output_tokens":0}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":", world"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			var typ struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(e), &typ)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ.Type, e)
		}
	})

	sr, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer sr.Close()

	var b strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		b.WriteString(chunk.Content)
	}
	if b.String() != "Hello, world" {
		t.Errorf("streamed %q", b.String())
	}
}

func Test_New_Providers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.ModelSettings
		wantErr string
	}{
		{name: "ollama", cfg: config.ModelSettings{Provider: "ollama", Model: "llama3"}},
		{name: "openai", cfg: config.ModelSettings{Provider: "openai", Model: "gpt-4o", APIKey: "sk-test"}},
		{name: "anthropic", cfg: config.ModelSettings{Provider: "anthropic", Model: "claude-test", APIKey: "k"}},
		{name: "openai/missing key", cfg: config.ModelSettings{Provider: "openai", Model: "gpt-4o"}, wantErr: "OPENAI_API_KEY"},
		{name: "azure/missing endpoint", cfg: config.ModelSettings{Provider: "azure", APIKey: "k", Model: "gpt-4.1"}, wantErr: "AZURE_OPENAI_ENDPOINT"},
		{name: "ark/missing key", cfg: config.ModelSettings{Provider: "ark", Model: "m"}, wantErr: "ARK_API_KEY"},
		{name: "gemini/missing key", cfg: config.ModelSettings{Provider: "gemini", Model: "gemini-2.0-flash"}, wantErr: "GOOGLE_API_KEY"},
		{name: "anthropic/missing key", cfg: config.ModelSettings{Provider: "anthropic", Model: "claude-test"}, wantErr: "ANTHROPIC_API_KEY"},
		{name: "unknown", cfg: config.ModelSettings{Provider: "bedrock"}, wantErr: "unknown provider"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, err := New(ctx, tc.cfg)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if m == nil {
				t.Fatal("nil model")
			}
		})
	}
}
