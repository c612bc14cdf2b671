package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/recall-go/internal/config"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicModel adapts the Claude Messages API to eino's BaseChatModel.
// System messages are lifted into the request's system prompt; user and
// assistant messages keep their order.
type AnthropicModel struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

var _ model.BaseChatModel = (*AnthropicModel)(nil)

// NewAnthropic constructs an AnthropicModel from cfg. A non-empty BaseURL
// overrides the API endpoint. Extra request options are appended after the
// ones derived from cfg.
func NewAnthropic(cfg config.ModelSettings, opts ...option.RequestOption) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generator: ANTHROPIC_API_KEY is required for anthropic")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("generator: anthropic requires a model name")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicModel{
		client:      anthropic.NewClient(reqOpts...),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// GetType names the component in callback run info.
func (m *AnthropicModel) GetType() string { return "Anthropic" }

// Generate sends input as one Messages request and returns the reply.
func (m *AnthropicModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	params, conf, err := m.params(input, opts...)
	if err != nil {
		return nil, err
	}

	ctx = callbacks.OnStart(ctx, &model.CallbackInput{Messages: input, Config: conf})
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		err = fmt.Errorf("generator: anthropic: %w", err)
		callbacks.OnError(ctx, err)
		return nil, err
	}

	out := toMessage(resp)
	callbacks.OnEnd(ctx, &model.CallbackOutput{
		Message: out,
		Config:  conf,
		TokenUsage: &model.TokenUsage{
			PromptTokens:     out.ResponseMeta.Usage.PromptTokens,
			CompletionTokens: out.ResponseMeta.Usage.CompletionTokens,
			TotalTokens:      out.ResponseMeta.Usage.TotalTokens,
		},
	})
	return out, nil
}

// Stream sends input as a streaming Messages request. Each text delta is
// delivered as one assistant message chunk.
func (m *AnthropicModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	params, _, err := m.params(input, opts...)
	if err != nil {
		return nil, err
	}

	stream := m.client.Messages.NewStreaming(ctx, params)
	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer sw.Close()
		defer stream.Close()

		for stream.Next() {
			evt, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := evt.Delta.AsAny().(anthropic.TextDelta)
			if !ok {
				continue
			}
			if closed := sw.Send(&schema.Message{Role: schema.Assistant, Content: delta.Text}, nil); closed {
				return
			}
		}
		if err := stream.Err(); err != nil {
			sw.Send(nil, fmt.Errorf("generator: anthropic stream: %w", err))
		}
	}()
	return sr, nil
}

// params maps eino messages and options onto a Messages request.
func (m *AnthropicModel) params(input []*schema.Message, opts ...model.Option) (anthropic.MessageNewParams, *model.Config, error) {
	name, maxTokens, temp := m.model, m.maxTokens, m.temperature
	o := model.GetCommonOptions(&model.Options{
		Model:       &name,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	}, opts...)

	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(*o.Model),
		MaxTokens: int64(*o.MaxTokens),
	}
	if o.Temperature != nil {
		p.Temperature = anthropic.Float(float64(*o.Temperature))
	}
	if len(o.Stop) > 0 {
		p.StopSequences = o.Stop
	}

	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			p.System = append(p.System, anthropic.TextBlockParam{Text: msg.Content})
		case schema.User:
			p.Messages = append(p.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case schema.Assistant:
			p.Messages = append(p.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return p, nil, fmt.Errorf("generator: anthropic: unsupported role %q", msg.Role)
		}
	}
	if len(p.Messages) == 0 {
		return p, nil, fmt.Errorf("generator: anthropic: at least one user message is required")
	}

	conf := &model.Config{Model: *o.Model, MaxTokens: *o.MaxTokens, Stop: o.Stop}
	if o.Temperature != nil {
		conf.Temperature = *o.Temperature
	}
	return p, conf, nil
}

// toMessage joins the text blocks of resp into one assistant message.
func toMessage(resp *anthropic.Message) *schema.Message {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &schema.Message{
		Role:    schema.Assistant,
		Content: b.String(),
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(resp.StopReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     in,
				CompletionTokens: out,
				TotalTokens:      in + out,
			},
		},
	}
}
