package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/mcp-gateway/internal/authdomain"
	"github.com/ethpandaops/mcp-gateway/internal/authmw"
	"github.com/ethpandaops/mcp-gateway/internal/sandbox"
)

type fakeBackend struct {
	result *sandbox.Result
	err    error
	gotReq sandbox.Request
}

func (f *fakeBackend) Execute(_ context.Context, req sandbox.Request) (*sandbox.Result, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeBackend) Cleanup(context.Context) error { return nil }

func contextWithScope(scope string) context.Context {
	id := authmw.Identity{Claims: authdomain.TokenClaims{Scope: scope}}
	return authmw.ContextWithIdentity(context.Background(), id)
}

func newCallToolRequest(_ *testing.T, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	return req
}

func TestToolHandler_ExecutesAndReturnsStructuredResult(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{result: &sandbox.Result{
		Stdout:      "hello\n",
		ExitCode:    0,
		OutputFiles: []string{"a.png"},
		Duration:    2 * time.Second,
	}}
	h := &ToolHandler{Backend: backend, CredentialEnv: CredentialEnv{"A": "a"}, RequireAuth: false}

	req := newCallToolRequest(t, map[string]any{"code": "print('hello')"})
	res, err := h.handle(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "print('hello')", backend.gotReq.Script)
	assert.Equal(t, "a", backend.gotReq.Env["A"])
}

func TestToolHandler_EmptyCodeIsError(t *testing.T) {
	t.Parallel()
	h := &ToolHandler{Backend: &fakeBackend{}, RequireAuth: false}

	req := newCallToolRequest(t, map[string]any{"code": ""})
	res, err := h.handle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolHandler_TimeoutIsReportedAsStructuredError(t *testing.T) {
	t.Parallel()
	h := &ToolHandler{Backend: &fakeBackend{err: sandbox.ErrExecutionTimeout}, RequireAuth: false}

	req := newCallToolRequest(t, map[string]any{"code": "import time; time.sleep(10)"})
	res, err := h.handle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolHandler_RequiresScope_ViaAuthmw(t *testing.T) {
	t.Parallel()
	h := &ToolHandler{Backend: &fakeBackend{}, RequireAuth: true}

	req := newCallToolRequest(t, map[string]any{"code": "1+1"})
	res, err := h.handle(context.Background(), req) // no Identity attached at all
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolHandler_GrantedScopeSucceeds(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{result: &sandbox.Result{Stdout: "ok\n"}}
	h := &ToolHandler{Backend: backend, RequireAuth: true}

	ctx := contextWithScope(ScopeExecute)
	req := newCallToolRequest(t, map[string]any{"code": "1+1"})
	res, err := h.handle(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestToolHandler_MissingScopeIsError(t *testing.T) {
	t.Parallel()
	h := &ToolHandler{Backend: &fakeBackend{}, RequireAuth: true}

	ctx := contextWithScope("tools:read")
	req := newCallToolRequest(t, map[string]any{"code": "1+1"})
	res, err := h.handle(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
