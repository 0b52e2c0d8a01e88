// Package commands defines all Cobra CLI commands for the docqa binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFiles holds the --env-file flag values.
var envFiles []string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docqa",
		Short: "docqa — ask questions about a PDF",
		Long: `docqa indexes an uploaded PDF and answers natural language questions
about it using a retrieval-augmented LLM pipeline.

Each browser session gets its own document, vector index and history.
Model and embedding providers are selected via MODEL_PROVIDER /
EMBEDDING_PROVIDER, a .env file, or a YAML config file (~/.docqa/config.yaml).
See 'docqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first, then YAML; neither overrides the real environment.
			if err := config.LoadDotEnv(log, envFiles...); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(logging.New(), cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docqa/config.yaml)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Path to a .env file (default: ./.env)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
