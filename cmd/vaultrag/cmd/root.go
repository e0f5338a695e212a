// Package cmd provides the CLI commands for vaultrag.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/pkg/version"
)

// Global flags shared by every subcommand.
var (
	vaultDir       string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the vaultrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaultrag",
		Short: "Local semantic search over a Markdown vault",
		Long: `vaultrag indexes a folder of Markdown notes and answers semantic
queries over it, from the command line or as an MCP server.

Embeddings come from Ollama, an OpenAI-compatible API, or an offline
static provider. Searches can also be routed to Omnisearch or another
MCP server when those are running.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("vaultrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&vaultDir, "vault", ".", "Vault directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.vaultrag/logs/")
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRelatedCmd())
	cmd.AddCommand(newContextCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// stopLogging flushes and closes the log file opened by loadConfig.
func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Debug("logging_stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
