package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewRetrieveCmd constructs the `recall retrieve` command, which prints the
// experiences most relevant to a query.
func NewRetrieveCmd() *cobra.Command {
	var topK int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Find the experiences most relevant to an interview question",
		Long: `Find the candidate's experiences most relevant to a question and print
them in STAR form, best match first.

Vector search is used when the experience collection exists; otherwise the
keyword fallback ranks the corpus file (RECALL_CORPUS_PATH).

Examples:
  recall retrieve "tell me about a time you handled an outage"
  recall retrieve --top-k 1 --json "conflict with a manager"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			defer func() { _ = svc.Close() }()

			chunks := svc.RetrieveExperienceChunks(ctx, strings.Join(args, " "), topK)
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, chunks)
			}
			if len(chunks) == 0 {
				fmt.Fprintln(out, "no relevant experiences found")
				return nil
			}
			for _, c := range chunks {
				fmt.Fprintf(out, "%s\n\n", c.Formatted())
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of experiences (default RECALL_TOP_K)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

// NewQACmd constructs the `recall qa` command, which prints the technical
// Q&A pairs most relevant to a query.
func NewQACmd() *cobra.Command {
	var topK int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "qa [query]",
		Short: "Find prepared technical Q&A relevant to a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("qa: %w", err)
			}
			defer func() { _ = svc.Close() }()

			pairs := svc.RetrieveTechnicalQA(ctx, strings.Join(args, " "), topK)
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, pairs)
			}
			if len(pairs) == 0 {
				fmt.Fprintln(out, "no technical Q&A found (run `recall ingest qa` first)")
				return nil
			}
			for _, p := range pairs {
				fmt.Fprintf(out, "Q: %s\nA: %s\n\n", p.Question, p.Answer)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of pairs (default RECALL_TOP_K)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}
