package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/recall-go/internal/ingestion"
	"github.com/54b3r/recall-go/internal/logging"
	"github.com/54b3r/recall-go/internal/recall"
)

// ingestFlags are shared by both ingest subcommands.
type ingestFlags struct {
	recreate    bool
	chunkSize   int
	overlap     int
	concurrency int
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.recreate, "recreate", false, "Drop the collection before writing")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", ingestion.DefaultChunkSize, "Maximum characters per chunk")
	cmd.Flags().IntVar(&f.overlap, "chunk-overlap", ingestion.DefaultChunkOverlap, "Characters shared by neighbouring chunks")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 4, "Concurrent embedding requests")
}

func (f *ingestFlags) pipeline(svc *recall.Service) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(svc.Embedder(), svc.Store(), &ingestion.Config{
		ChunkSize:    f.chunkSize,
		ChunkOverlap: f.overlap,
		Concurrency:  f.concurrency,
		Recreate:     f.recreate,
	})
}

// NewIngestCmd constructs the `recall ingest` command group, which embeds
// source files into the vector store collections the retrievers read.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed experiences or technical Q&A into the vector store",
		Long: `Embed source files into the vector store.

Source files are JSON arrays, or YAML lists when the extension is .yaml or
.yml. Re-ingesting the same file overwrites existing chunks in place; use
--recreate to drop records that are no longer in the file.

Examples:
  recall ingest experiences ./experiences.json
  recall ingest qa --recreate ./technical_qa.yaml`,
	}
	cmd.AddCommand(newIngestExperiencesCmd(), newIngestQACmd())
	return cmd
}

func newIngestExperiencesCmd() *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "experiences [file]",
		Short: "Ingest the experience corpus (default RECALL_CORPUS_PATH)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, settings, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = svc.Close() }()

			path := settings.Retrieval.CorpusPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("ingest: no experience file given and RECALL_CORPUS_PATH is not set")
			}
			experiences, err := ingestion.LoadExperiences(path)
			if err != nil {
				return err
			}

			p, err := flags.pipeline(svc)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			report, err := p.IngestExperiences(ctx, experiences)
			logReport(cmd, path, report)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newIngestQACmd() *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "qa <file>",
		Short: "Ingest a technical Q&A file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = svc.Close() }()

			pairs, err := ingestion.LoadTechnicalQA(args[0])
			if err != nil {
				return err
			}
			if len(pairs) == 0 {
				return fmt.Errorf("ingest: %s contains no Q&A pairs", args[0])
			}

			p, err := flags.pipeline(svc)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			report, err := p.IngestTechnicalQA(ctx, pairs)
			logReport(cmd, args[0], report)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func logReport(cmd *cobra.Command, path string, r ingestion.Report) {
	logging.FromContext(cmd.Context()).Info("ingestion complete",
		slog.String("file", path),
		slog.String("collection", r.Collection),
		slog.Int("sources", r.Sources),
		slog.Int("documents", r.Documents),
		slog.Int("stored", r.Stored),
		slog.Int("failed", r.Failed),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: stored %d of %d chunks from %d records\n",
		r.Collection, r.Stored, r.Documents, r.Sources)
}
