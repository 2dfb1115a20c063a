// Package commands defines all Cobra CLI commands for the advisorkb binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ledgerpeak/advisorkb/internal/audit"
	"github.com/ledgerpeak/advisorkb/internal/config"
	"github.com/ledgerpeak/advisorkb/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "advisorkb",
		Short: "AdvisorKB — scoped knowledge base and RAG service for advisory platforms",
		Long: `AdvisorKB is a multi-tenant knowledge service for advisory platforms.

It ingests uploaded documents into a scoped vector index, retrieves the
chunks a caller is allowed to see (specialist packs, tenant knowledge,
customer context), and answers questions grounded in that knowledge with
source citations.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.advisorkb/config.yaml).
See 'advisorkb --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Load .env first so a local env file feeds both the YAML
			// loader and direct env lookups. Absence is not an error.
			_ = godotenv.Load()

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

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.advisorkb/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewVersionCmd(),
	)

	return root
}
