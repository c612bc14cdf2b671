package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/mcptools"
	"github.com/54b3r/recall-go/internal/tracing"
)

// NewMCPCmd constructs the `recall mcp` command, which serves the recall
// tools to an MCP client over stdin and stdout.
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve recall tools over the MCP stdio transport",
		Long: `Serve recall as an MCP server on stdin/stdout. Logs go to stderr.

Tools: retrieve_experiences, retrieve_technical_qa, cache_lookup,
cache_store, cache_clear, and answer_question when a chat model is
configured.

Example client entry:
  {"command": "recall", "args": ["mcp"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			svc, settings, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer func() { _ = svc.Close() }()

			flush := tracing.Install(settings.Tracing)
			defer flush()

			deps := mcptools.Deps{Backend: svc, Logger: log}
			if a, err := newAnswerer(ctx, svc, settings); err != nil {
				log.Warn("mcp: answer_question disabled", slog.Any("error", err))
			} else {
				deps.Answerer = a
			}
			return mcptools.Serve(ctx, deps, os.Stdin, os.Stdout)
		},
	}
}
