package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
)

// maxArgumentLogLength bounds logged string arguments other than SQL.
const maxArgumentLogLength = 200

// MCPRequestLogger returns middleware that logs MCP JSON-RPC requests and
// responses and tags the request context with an "mcp" caller. Tool results
// flagged isError are logged with their error code. A nil logger disables
// logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(audit.WithCaller(r.Context(), audit.Caller{Transport: "mcp", ClientIP: ClientIP(r)}))
			if logger == nil {
				next.ServeHTTP(w, r)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

			var rpcReq jsonRPCRequest
			if err := json.Unmarshal(bodyBytes, &rpcReq); err != nil {
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}
			toolName := rpcReq.Params.Name

			logger.Debug("MCP request",
				zap.String("method", rpcReq.Method),
				zap.String("tool", toolName),
				zap.Any("arguments", sanitizeArguments(rpcReq.Params.Arguments)),
			)

			recorder := &mcpResponseRecorder{ResponseWriter: w, body: &bytes.Buffer{}}
			start := time.Now()

			next.ServeHTTP(recorder, r)

			duration := time.Since(start)

			var rpcResp jsonRPCResponse
			if err := json.Unmarshal(recorder.body.Bytes(), &rpcResp); err != nil {
				logger.Debug("Failed to parse MCP response JSON", zap.Error(err))
				return
			}

			switch {
			case rpcResp.Error != nil:
				logger.Debug("MCP response error",
					zap.String("tool", toolName),
					zap.Int("error_code", rpcResp.Error.Code),
					zap.String("error_message", logging.TruncateString(rpcResp.Error.Message, logging.MaxErrorLength)),
					zap.Duration("duration", duration),
				)
			case rpcResp.Result.IsError:
				logger.Debug("MCP tool error result",
					zap.String("tool", toolName),
					zap.String("code", rpcResp.Result.errorCode()),
					zap.Duration("duration", duration),
				)
			default:
				logger.Debug("MCP response success",
					zap.String("tool", toolName),
					zap.Duration("duration", duration),
				)
			}
		})
	}
}

type jsonRPCRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type jsonRPCResponse struct {
	Result toolResult    `json:"result"`
	Error  *jsonRPCError `json:"error"`
}

type toolResult struct {
	IsError bool `json:"isError"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// errorCode reads the code of a structured error result, if any.
func (t toolResult) errorCode() string {
	for _, c := range t.Content {
		if c.Type != "text" {
			continue
		}
		var body struct {
			Code string `json:"code"`
		}
		if json.Unmarshal([]byte(c.Text), &body) == nil && body.Code != "" {
			return body.Code
		}
	}
	return "unknown"
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpResponseRecorder captures the response body while writing it through.
type mcpResponseRecorder struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *mcpResponseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var sensitiveKeywords = []string{"password", "secret", "token", "key", "credential"}

// sanitizeArguments redacts sensitive fields, masks literals in SQL and
// truncates long values.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	result := make(map[string]any, len(args))
	for k, v := range args {
		lowerKey := strings.ToLower(k)
		if containsAny(lowerKey, sensitiveKeywords) {
			result[k] = "[REDACTED]"
			continue
		}

		str, ok := v.(string)
		switch {
		case !ok:
			result[k] = v
		case lowerKey == "sql":
			result[k] = logging.SanitizeQuery(str)
		default:
			result[k] = logging.TruncateString(str, maxArgumentLogLength)
		}
	}
	return result
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
