package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/recall-go/internal/interview"
	"github.com/54b3r/recall-go/internal/tracing"
)

// NewAskCmd constructs the `recall ask` command, which answers one
// interview question through the full cache-then-generate flow.
func NewAskCmd() *cobra.Command {
	var mode string
	var round int
	var profile string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer an interview question in the candidate's voice",
		Long: `Answer an interview question. A remembered answer to a similar question is
reused when one exists; otherwise the chat model answers from retrieved
experiences and technical notes and the answer is remembered.

Examples:
  recall ask "tell me about yourself"
  recall ask --mode behavioral --round 2 "describe a conflict with a peer"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, settings, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = svc.Close() }()

			flush := tracing.Install(settings.Tracing)
			defer flush()

			a, err := newAnswerer(ctx, svc, settings)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			resp, err := a.Answer(ctx, interview.Request{
				Question:  strings.Join(args, " "),
				Mode:      mode,
				Round:     round,
				ProfileID: profile,
			})
			if err != nil {
				return err //nolint:wrapcheck // already prefixed by the interview package
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)
			if resp.Cached {
				fmt.Fprintf(out, "\n(remembered answer, similarity %.2f)\n", resp.Similarity)
			}
			if showSources && !resp.Cached {
				fmt.Fprintln(out, "\n--- sources ---")
				for _, e := range resp.Sources.Experiences {
					fmt.Fprintf(out, "%s\n\n", e)
				}
				for _, qa := range resp.Sources.TechnicalQA {
					fmt.Fprintf(out, "Q: %s\nA: %s\n\n", qa.Question, qa.Answer)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", interview.ModeQA, "Answer style: qa, behavioral, or technical")
	cmd.Flags().IntVar(&round, "round", 0, "Interview round (0 matches remembered answers from any round)")
	cmd.Flags().StringVar(&profile, "profile", "", "Candidate profile")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the retrieved context after the answer")
	return cmd
}
