// Package tracing wires Langfuse into eino's callback system so answer
// generation shows up as traces.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/recall-go/internal/config"
)

// Setup initialises the Langfuse callback handler when both keys are set.
// The returned flush function must be called before process exit so queued
// traces are sent. Without keys, tracing is disabled and ok is false.
func Setup(cfg config.TracingSettings) (handler callbacks.Handler, flush func(), ok bool) {
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, nil, false
	}
	host := cfg.Host
	if host == "" {
		host = "https://cloud.langfuse.com"
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	return handler, flush, true
}

// Install registers the Langfuse handler globally when configured and
// returns the flush function. It returns a no-op when tracing is disabled.
func Install(cfg config.TracingSettings) func() {
	handler, flush, ok := Setup(cfg)
	if !ok {
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush
}
