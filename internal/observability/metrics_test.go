package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordToolCall_ExposedViaHandler(t *testing.T) {
	t.Parallel()
	r := New()
	r.RecordToolCall("execute_code", "ok", 250*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "mcp_gateway_tool_calls_total")
	assert.Contains(t, body, `tool="execute_code"`)
	assert.Contains(t, body, `status="ok"`)
}

func TestRecorder_RecordSandboxExecution(t *testing.T) {
	t.Parallel()
	r := New()
	r.RecordSandboxExecution("hardened", 2*time.Second, "timeout")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "mcp_gateway_sandbox_executions_total")
	assert.Contains(t, body, `backend="hardened"`)
	assert.Contains(t, body, `outcome="timeout"`)
}

func TestRecorder_ActiveSessionsGauge(t *testing.T) {
	t.Parallel()
	r := New()
	r.SetActiveSessions(7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), "mcp_gateway_active_sessions 7")
}

func TestRecorder_AuthAttempts(t *testing.T) {
	t.Parallel()
	r := New()
	r.RecordAuthAttempt("invalid_token")
	r.RecordAuthAttempt("success")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `outcome="invalid_token"`)
	assert.Contains(t, body, `outcome="success"`)
}
