package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/mcp-gateway/internal/config"
	"github.com/ethpandaops/mcp-gateway/internal/gateway"
	"github.com/ethpandaops/mcp-gateway/internal/logging"
)

func newStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the gateway over a stdin/stdout line-delimited MCP transport",
		RunE:  runStdio,
	}
}

func runStdio(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(globalViper)
	if err != nil {
		return err
	}
	// Stdio is an embedded, single-process transport: the gateway's own
	// OAuth surface has no bearer-token client to talk to it, so auth is
	// always off regardless of auth.enabled.
	cfg.Auth.Enabled = false

	c, err := assemble(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.backend.Cleanup(context.Background()); err != nil {
			logging.Errorw("sandbox cleanup failed", "error", err)
		}
	}()

	if err := gateway.ServeStdio(ctx, c.toolHandler); err != nil {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}
