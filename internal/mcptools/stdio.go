package mcptools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// Serve runs the MCP server over stdio until ctx is cancelled or in
// reaches EOF. Diagnostics go to the configured logger: out carries
// protocol frames only.
func Serve(ctx context.Context, deps Deps, in io.Reader, out io.Writer) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s, err := NewServer(deps)
	if err != nil {
		return err
	}
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(deps.Logger.Handler(), slog.LevelError))

	deps.Logger.Info("mcp: serving on stdio")
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcptools: stdio: %w", err)
	}
	return nil
}
