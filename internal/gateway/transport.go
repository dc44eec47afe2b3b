package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ethpandaops/mcp-gateway/internal/authmw"
	"github.com/ethpandaops/mcp-gateway/internal/authserver"
	"github.com/ethpandaops/mcp-gateway/internal/observability"
)

// Route paths for the MCP transport variants served alongside the
// authorization server.
const (
	PathStreamableHTTP = "/mcp"
	PathSSE            = "/sse"
	PathMessages       = "/messages/"
	PathHealth         = "/health"
	PathReady          = "/ready"
	PathMetrics        = "/metrics"
)

// ServerName and ServerVersion identify this gateway to MCP clients during
// the initialize handshake.
const (
	ServerName    = "mcp-gateway"
	ServerVersion = "0.1.0"
)

// Config wires together everything needed to serve the gateway's full HTTP
// surface: the OAuth authorization server, the auth middleware, and the
// MCP tool surface, across the streamable-HTTP and SSE transport variants.
type Config struct {
	AuthServer *authserver.Server
	Middleware *authmw.Middleware
	Tool       *ToolHandler
	Metrics    *observability.Recorder
}

// NewMCPServer constructs the mcp-go server with every tool this gateway
// exposes registered on it.
func NewMCPServer(tool *ToolHandler) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(
		ServerName,
		ServerVersion,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
	)
	tool.RegisterTool(s)
	RegisterDataAccessStubs(s)
	return s
}

// Routes returns the complete HTTP handler: the authorization server's
// public endpoints, health/ready, and the auth-middleware-gated MCP
// transport endpoints. All of it is served on one listener, matching the
// contract that OAuth endpoints are always public on the same port the
// tool surface is served from.
func Routes(cfg Config) http.Handler {
	mcpServer := NewMCPServer(cfg.Tool)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpServer,
		mcpserver.WithEndpointPath(PathStreamableHTTP),
		mcpserver.WithHTTPContextFunc(passThroughContext),
	)
	sse := mcpserver.NewSSEServer(
		mcpServer,
		mcpserver.WithSSEEndpoint(PathSSE),
		mcpserver.WithMessageEndpoint(PathMessages),
		mcpserver.WithHTTPContextFunc(passThroughContext),
	)

	r := chi.NewRouter()
	if cfg.AuthServer != nil {
		r.Mount("/", cfg.AuthServer.Routes())
	}
	r.Get(PathHealth, handleHealth)
	r.Get(PathReady, handleHealth)
	if cfg.Metrics != nil {
		r.Handle(PathMetrics, cfg.Metrics.Handler())
	}
	r.Handle(PathStreamableHTTP, streamable)
	r.Handle(PathSSE, sse)
	r.Handle(PathMessages, sse)

	if cfg.Middleware == nil {
		return r
	}
	return cfg.Middleware.Wrap(r)
}

// passThroughContext hands mcp-go the request's own context, which by the
// time it reaches here has already been enriched by authmw.Wrap with the
// authenticated Identity: tool handlers read it back out with
// authmw.FromContext.
func passThroughContext(_ context.Context, r *http.Request) context.Context {
	return r.Context()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ServeStdio runs the MCP server over a stdin/stdout line-delimited
// framing, for embedded use where no HTTP listener is wanted. Stdio mode
// has no bearer-token surface: the embedding process is the trust
// boundary, so tool calls made over stdio are never scope-checked against
// authmw — there is no request to attach an Identity to.
func ServeStdio(ctx context.Context, tool *ToolHandler) error {
	tool.RequireAuth = false
	mcpServer := NewMCPServer(tool)
	return mcpserver.NewStdioServer(mcpServer).Listen(ctx, os.Stdin, os.Stdout)
}
