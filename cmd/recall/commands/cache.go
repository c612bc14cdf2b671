package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/recall-go/internal/responsecache"
)

// NewCacheCmd constructs the `recall cache` command group.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Look up, store, or clear remembered interview answers",
	}
	cmd.AddCommand(newCacheLookupCmd(), newCacheStoreCmd(), newCacheClearCmd())
	return cmd
}

func newCacheLookupCmd() *cobra.Command {
	var threshold float64
	var round int
	var profile string

	cmd := &cobra.Command{
		Use:   "lookup [question]",
		Short: "Print a remembered answer to a similar question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("threshold") && (threshold <= 0 || threshold > 1) {
				return fmt.Errorf("cache lookup: --threshold must be in (0, 1], got %g", threshold)
			}
			ctx := cmd.Context()
			svc, _, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("cache lookup: %w", err)
			}
			defer func() { _ = svc.Close() }()

			opts := responsecache.LookupOptions{Threshold: threshold, ProfileID: profile}
			if cmd.Flags().Changed("round") {
				opts.Round = &round
			}
			hit, err := svc.CacheLookup(ctx, strings.Join(args, " "), opts)
			if err != nil {
				return fmt.Errorf("cache lookup: %w", err)
			}
			if hit == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "miss")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), hit)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity in (0,1] (default RECALL_CACHE_THRESHOLD)")
	cmd.Flags().IntVar(&round, "round", 0, "Only match answers from this interview round")
	cmd.Flags().StringVar(&profile, "profile", "", "Only match answers for this candidate profile")
	return cmd
}

func newCacheStoreCmd() *cobra.Command {
	var mode string
	var round int
	var profile string

	cmd := &cobra.Command{
		Use:   "store [question] [answer]",
		Short: "Remember an answer to a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("cache store: %w", err)
			}
			defer func() { _ = svc.Close() }()

			id, err := svc.CacheStore(ctx, args[0], args[1], responsecache.StoreOptions{
				Mode:      mode,
				Round:     round,
				ProfileID: profile,
			})
			if err != nil {
				return fmt.Errorf("cache store: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "qa", "Answer mode: qa, behavioral, or technical")
	cmd.Flags().IntVar(&round, "round", 1, "Interview round")
	cmd.Flags().StringVar(&profile, "profile", "", "Candidate profile")
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	var round int
	var profile string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete remembered answers",
		Long: `Delete remembered answers. Without filters every answer is deleted.

Examples:
  recall cache clear
  recall cache clear --profile alice --round 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, nil)
			if err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			defer func() { _ = svc.Close() }()

			var f responsecache.ClearFilter
			if cmd.Flags().Changed("round") {
				f.Round = &round
			}
			if cmd.Flags().Changed("profile") {
				f.ProfileID = &profile
			}
			n, err := svc.CacheClear(ctx, f)
			if err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d cached answers\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&round, "round", 0, "Only delete answers from this round")
	cmd.Flags().StringVar(&profile, "profile", "", "Only delete answers for this profile")
	return cmd
}
