package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-nlq/pkg/audit"
)

func serveMCP(t *testing.T, logger *zap.Logger, reqBody, respBody string) *httptest.ResponseRecorder {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(respBody))
	})
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody))
	rec := httptest.NewRecorder()
	MCPRequestLogger(logger)(handler).ServeHTTP(rec, req)
	return rec
}

func TestMCPRequestLogger(t *testing.T) {
	t.Run("logs successful tool call", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)

		serveMCP(t, zap.New(core),
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run_query","arguments":{"question":"show me all orders"}}}`,
			`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{\"status\":\"completed\"}"}]}}`)

		require.Equal(t, 2, logs.Len(), "Should log request and response")

		requestLog := logs.All()[0]
		assert.Equal(t, "MCP request", requestLog.Message)
		assert.Equal(t, "tools/call", requestLog.ContextMap()["method"])
		assert.Equal(t, "run_query", requestLog.ContextMap()["tool"])
		args := requestLog.ContextMap()["arguments"].(map[string]any)
		assert.Equal(t, "show me all orders", args["question"])

		responseLog := logs.All()[1]
		assert.Equal(t, "MCP response success", responseLog.Message)
		assert.Equal(t, "run_query", responseLog.ContextMap()["tool"])
		assert.NotNil(t, responseLog.ContextMap()["duration"])
	})

	t.Run("logs protocol error response", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)

		serveMCP(t, zap.New(core),
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"health"}}`,
			`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"health failed"}}`)

		require.Equal(t, 2, logs.Len())
		responseLog := logs.All()[1]
		assert.Equal(t, "MCP response error", responseLog.Message)
		assert.Equal(t, int64(-32603), responseLog.ContextMap()["error_code"])
		assert.Equal(t, "health failed", responseLog.ContextMap()["error_message"])
	})

	t.Run("logs tool error result with its code", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)

		serveMCP(t, zap.New(core),
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"validate_sql","arguments":{"sql":"DELETE FROM orders"}}}`,
			`{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[{"type":"text","text":"{\"error\":true,\"code\":\"unsafe_query\",\"message\":\"unsafe query\"}"}]}}`)

		require.Equal(t, 2, logs.Len())
		responseLog := logs.All()[1]
		assert.Equal(t, "MCP tool error result", responseLog.Message)
		assert.Equal(t, "unsafe_query", responseLog.ContextMap()["code"])
	})

	t.Run("masks SQL literals and sensitive parameters", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)

		serveMCP(t, zap.New(core),
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"validate_sql","arguments":{"sql":"SELECT * FROM customers WHERE name = 'Acme'","api_key":"abc123","hint":"orders"}}}`,
			`{"jsonrpc":"2.0","id":1,"result":{}}`)

		args := logs.All()[0].ContextMap()["arguments"].(map[string]any)
		assert.Equal(t, "SELECT * FROM customers WHERE name = '?'", args["sql"])
		assert.Equal(t, "[REDACTED]", args["api_key"])
		assert.Equal(t, "orders", args["hint"])
	})

	t.Run("attaches mcp caller even without a logger", func(t *testing.T) {
		var got audit.Caller
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = audit.CallerFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`))
		req.RemoteAddr = "198.51.100.4:1234"
		rec := httptest.NewRecorder()
		MCPRequestLogger(nil)(handler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, audit.Caller{Transport: "mcp", ClientIP: "198.51.100.4"}, got)
	})

	t.Run("handles malformed JSON gracefully", func(t *testing.T) {
		core, _ := observer.New(zapcore.DebugLevel)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad request"}`))
		})

		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{invalid json`))
		rec := httptest.NewRecorder()
		MCPRequestLogger(zap.New(core))(handler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSanitizeArguments(t *testing.T) {
	long := strings.Repeat("x", 250)
	tests := []struct {
		name string
		args map[string]any
		want map[string]any
	}{
		{name: "nil", args: nil, want: nil},
		{name: "empty", args: map[string]any{}, want: map[string]any{}},
		{
			name: "sensitive keys",
			args: map[string]any{"password": "secret", "access_token": "xyz", "client_secret": "h", "credential": "c", "question": "visible"},
			want: map[string]any{"password": "[REDACTED]", "access_token": "[REDACTED]", "client_secret": "[REDACTED]", "credential": "[REDACTED]", "question": "visible"},
		},
		{
			name: "long question truncated",
			args: map[string]any{"question": long},
			want: map[string]any{"question": long[:200] + "..."},
		},
		{
			name: "sql literals masked",
			args: map[string]any{"sql": "SELECT order_id FROM orders WHERE status = 'PENDING'"},
			want: map[string]any{"sql": "SELECT order_id FROM orders WHERE status = '?'"},
		},
		{
			name: "non-string values preserved",
			args: map[string]any{"number": 42, "flag": true, "null": nil},
			want: map[string]any{"number": 42, "flag": true, "null": nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeArguments(tt.args))
		})
	}
}
