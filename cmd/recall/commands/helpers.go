package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/recall-go/internal/config"
	"github.com/54b3r/recall-go/internal/generator"
	"github.com/54b3r/recall-go/internal/interview"
	"github.com/54b3r/recall-go/internal/recall"
)

// openService resolves settings from the environment and opens the recall
// service. Commands other than serve pass a private registry so one-shot
// runs do not touch the default one.
func openService(ctx context.Context, reg prometheus.Registerer) (*recall.Service, config.Settings, error) {
	settings := config.FromEnv()
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	svc, err := recall.NewFromConfig(ctx, &settings, reg)
	if err != nil {
		return nil, settings, err
	}
	return svc, settings, nil
}

// newAnswerer builds the chat model selected by settings and an Answerer
// over svc.
func newAnswerer(ctx context.Context, svc *recall.Service, settings config.Settings) (*interview.Answerer, error) {
	if err := settings.ValidateModel(); err != nil {
		return nil, err
	}
	chatModel, err := generator.New(ctx, settings.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise chat model: %w", err)
	}
	return interview.New(&interview.Config{
		Backend:   svc,
		ChatModel: chatModel,
		TopK:      settings.Retrieval.TopK,
	})
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
