package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/mcp-gateway/internal/authstore"
	"github.com/ethpandaops/mcp-gateway/internal/config"
	"github.com/ethpandaops/mcp-gateway/internal/gateway"
	"github.com/ethpandaops/mcp-gateway/internal/logging"
)

const (
	defaultGracefulTimeout  = 30 * time.Second
	serverReadHeaderTimeout = 10 * time.Second
	sweepInterval           = time.Minute
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway over HTTP (streamable HTTP and SSE transports)",
		RunE:  runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(globalViper)
	if err != nil {
		return err
	}

	c, err := assemble(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.backend.Cleanup(context.Background()); err != nil {
			logging.Errorw("sandbox cleanup failed", "error", err)
		}
	}()

	handler := gateway.Routes(gateway.Config{
		AuthServer: c.authServer,
		Middleware: c.middleware,
		Tool:       c.toolHandler,
		Metrics:    c.metrics,
	})

	if c.store != nil {
		authstore.RunSweeper(ctx, c.store, sweepInterval, c.metrics)
	}

	// No server-level ReadTimeout/WriteTimeout/IdleTimeout: this server's
	// handler includes the long-lived SSE (/sse) and streamable-HTTP (/mcp)
	// transports, which a fixed write deadline would sever mid-stream.
	// ReadHeaderTimeout alone still bounds how long a slow client can hold a
	// connection open before sending a complete request.
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
	}

	go func() {
		logging.Infof("gateway listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("server forced to shutdown: %v", err)
		return err
	}
	return nil
}

