// Package app provides the entry point for the mcp-gateway command-line
// application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/ethpandaops/mcp-gateway/internal/config"
	"github.com/ethpandaops/mcp-gateway/internal/logging"
)

var globalViper = config.New()

// NewRootCmd creates the root command for the mcp-gateway CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "mcp-gateway",
		DisableAutoGenTag: true,
		Short:             "mcp-gateway is an OAuth-fronted MCP server for sandboxed code execution",
		Long: `mcp-gateway exposes a sandboxed code-execution tool over the Model Context
Protocol, guarded by an OAuth 2.1 authorization server that federates
identity to an external provider and enforces organization membership
policy on every access token it mints.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logging.Errorf("displaying help: %v", err)
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	bindFlag(rootCmd, "config", "config")
	bindFlag(rootCmd, "debug", "debug")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStdioCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := globalViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		logging.Errorf("binding flag %q: %v", flag, err)
	}
}
