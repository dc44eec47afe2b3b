package gateway

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// The data-access tools below are the gateway's external collaborators:
// the query-example catalog, the schema browser, and the downstream
// analytics/object-storage wrappers. Their real implementations are out of
// scope for this repository; registering them here as thin pass-throughs
// still exercises the gateway's routing and auth middleware for every tool
// call, not just execute_python. The stub handlers record no metrics.

const (
	toolListQueryExamples = "list_query_examples"
	toolGetSchema         = "get_schema"
)

// RegisterDataAccessStubs adds the out-of-scope data-access tools to
// mcpServer so a client sees a complete tool catalog even though this
// gateway does not implement their backing services.
func RegisterDataAccessStubs(mcpServer *mcpserver.MCPServer) {
	mcpServer.AddTool(mcp.Tool{
		Name:        toolListQueryExamples,
		Description: "List example analytics queries available to the sandbox. Not implemented by this gateway; the catalog is an external collaborator.",
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}, handleNotImplemented(toolListQueryExamples))

	mcpServer.AddTool(mcp.Tool{
		Name:        toolGetSchema,
		Description: "Browse the schema of a configured downstream data source. Not implemented by this gateway; the schema browser is an external collaborator.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "Name of the configured downstream collaborator to browse",
				},
			},
		},
	}, handleNotImplemented(toolGetSchema))
}

func handleNotImplemented(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError(name + " is served by an external collaborator not configured in this gateway"), nil
	}
}
