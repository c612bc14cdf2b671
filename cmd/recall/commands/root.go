// Package commands defines all Cobra CLI commands for the recall binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/recall-go/internal/audit"
	"github.com/54b3r/recall-go/internal/config"
	"github.com/54b3r/recall-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recall",
		Short: "Retrieval and answer caching for an interview assistant",
		Long: `recall gives an interview assistant the candidate's own material: past
experiences in STAR form, prepared technical Q&A, and every answer already
given, so repeated questions get consistent answers.

Embedding provider, vector store, and chat model are selected via
environment variables or a YAML config file (~/.recall/config.yaml).
Environment variables always win over the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New(logging.OptionsFromEnv())

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			// The file may have set LOG_LEVEL or LOG_FORMAT.
			log = logging.New(logging.OptionsFromEnv())

			audit.LogCommandStart(log, cmd.CommandPath(), path)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.recall/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewRetrieveCmd(),
		NewQACmd(),
		NewCacheCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)

	return root
}
