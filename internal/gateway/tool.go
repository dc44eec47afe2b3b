// Package gateway wires the sandbox runtime up as an MCP tool and serves
// it alongside the authorization server behind the auth middleware, across
// every transport variant the gateway supports.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ethpandaops/mcp-gateway/internal/authmw"
	"github.com/ethpandaops/mcp-gateway/internal/observability"
	"github.com/ethpandaops/mcp-gateway/internal/sandbox"
)

// ToolName is the MCP tool name exposed for sandboxed code execution.
const ToolName = "execute_python"

// ScopeExecute is the OAuth scope required to call ToolName.
const ScopeExecute = "tools:execute"

// CredentialEnv assembles the environment variables handed to every
// sandbox execution, sourced entirely from gateway configuration. Its keys
// are the names downstream collaborators (object storage, SQL, analytics
// services) expect; values are never derived from the caller's tool-call
// payload, so a tool call can never smuggle its own environment into the
// container.
type CredentialEnv map[string]string

// ToolHandler implements the execute_python MCP tool against a Backend.
type ToolHandler struct {
	Backend       sandbox.Backend
	CredentialEnv CredentialEnv
	Metrics       *observability.Recorder
	// DefaultTimeout bounds executions that do not specify one explicitly;
	// the backend's own Config.MaxTimeout is the final word regardless.
	DefaultTimeout time.Duration
	// RequireAuth gates the scope check. HTTP transports set this whenever
	// auth is enabled;
	// the stdio transport has no bearer-token surface to check against and
	// leaves it false, trusting the embedding process as the boundary.
	RequireAuth bool
}

// RegisterTool adds the execute_python tool to mcpServer.
func (h *ToolHandler) RegisterTool(mcpServer *mcpserver.MCPServer) {
	mcpServer.AddTool(mcp.Tool{
		Name:        ToolName,
		Description: "Run a short Python script in an isolated sandbox and return its stdout, stderr, exit code, and any files it wrote to its output directory.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source to execute",
				},
				"timeout_seconds": map[string]any{
					"type":        "number",
					"description": "Maximum seconds the script may run before it is killed",
				},
			},
			Required: []string{"code"},
		},
	}, h.handle)
}

type executeArgs struct {
	Code           string  `json:"code"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

func (h *ToolHandler) handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	status := "ok"
	defer func() {
		if h.Metrics != nil {
			h.Metrics.RecordToolCall(ToolName, status, time.Since(start))
		}
	}()

	if h.RequireAuth && !authmw.RequireScope(ctx, ScopeExecute) {
		status = "error"
		return mcp.NewToolResultError(fmt.Sprintf("missing required scope %q", ScopeExecute)), nil
	}

	var args executeArgs
	if err := request.BindArguments(&args); err != nil {
		status = "error"
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse arguments: %v", err)), nil
	}
	if args.Code == "" {
		status = "error"
		return mcp.NewToolResultError("code must not be empty"), nil
	}

	timeout := h.DefaultTimeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds * float64(time.Second))
	}

	result, err := h.Backend.Execute(ctx, sandbox.Request{
		Script:  args.Code,
		Env:     h.CredentialEnv,
		Timeout: timeout,
	})
	if err != nil {
		status = "error"
		if err == sandbox.ErrExecutionTimeout {
			return mcp.NewToolResultError("execution timed out"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("sandbox execution failed: %v", err)), nil
	}

	return mcp.NewToolResultStructuredOnly(map[string]any{
		"stdout":        result.Stdout,
		"stderr":        result.Stderr,
		"exit_code":     result.ExitCode,
		"output_files":  result.OutputFiles,
		"metrics":       result.Metrics,
		"duration_secs": result.Duration.Seconds(),
	}), nil
}
