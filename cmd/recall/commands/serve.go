package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/server"
	"github.com/54b3r/recall-go/internal/tracing"
)

// NewServeCmd constructs the `recall serve` command, which starts the HTTP
// API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var noAnswer bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recall HTTP API",
		Long: `Start the recall HTTP API.

Retrieval and cache endpoints are always available. POST /api/answer is
enabled when a chat model is configured (MODEL_PROVIDER and its
credentials); otherwise it replies 503 and the rest of the API still works.

Examples:
  recall serve
  recall serve --port 9090
  VECTOR_STORE=qdrant recall serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			svc, settings, err := openService(ctx, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = svc.Close() }()

			flush := tracing.Install(settings.Tracing)
			defer flush()

			var answerer server.Answerer
			if !noAnswer {
				a, err := newAnswerer(ctx, svc, settings)
				if err != nil {
					log.Warn("serve: answer generation disabled", slog.Any("error", err))
				} else {
					answerer = a
					log.Info("serve: chat model ready",
						slog.String("provider", settings.Model.Provider),
						slog.String("model", settings.Model.Model),
					)
				}
			}

			if cmd.Flags().Changed("host") {
				settings.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				settings.Server.Port = port
			}

			srv, err := server.New(svc, answerer, &server.Config{
				Host:        settings.Server.Host,
				Port:        settings.Server.Port,
				Logger:      log,
				APIKey:      settings.Server.APIKey,
				CORSOrigins: settings.Server.CORSOrigins,
				RateLimit:   settings.Server.RateLimitRPS,
				RateBurst:   settings.Server.RateLimitBurst,
				Pingers: []server.Pinger{
					svc.Store(),
					server.NewEmbedderPinger(svc.Embedder(), settings.Embedding.Provider),
				},
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides RECALL_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides RECALL_PORT)")
	cmd.Flags().BoolVar(&noAnswer, "no-answer", false, "Disable POST /api/answer even when a chat model is configured")

	return cmd
}
