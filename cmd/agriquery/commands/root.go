// Package commands defines all Cobra CLI commands for the agriquery binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/DevjeetSahu/agriquery-go/internal/audit"
	"github.com/DevjeetSahu/agriquery-go/internal/config"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agriquery",
		Short: "agriquery — retrieval-augmented agricultural assistant",
		Long: `agriquery answers farmers' questions over a curated agricultural knowledge
base: market prices, soil health, pest control, fertilizers, and government
schemes. Simple questions are answered in one retrieval+generation pass;
multi-part questions are decomposed into workflows whose steps are executed
in order and synthesized into a final summary.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.agriquery/config.yaml).
See 'agriquery --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.agriquery/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewRebuildCmd(),
		NewVersionCmd(),
	)

	return root
}
