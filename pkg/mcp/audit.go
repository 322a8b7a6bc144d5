package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
)

// Security levels of a tool call event.
const (
	SecurityNormal   = "normal"
	SecurityWarning  = "warning"
	SecurityCritical = "critical"
)

// Tool call event types.
const (
	EventToolCall             = "tool_call"
	EventToolError            = "tool_error"
	EventSQLInjectionAttempt  = "sql_injection_attempt"
	EventAdmissionSaturated   = "admission_saturated"
	EventUnsafeQueryRejection = "unsafe_query_rejected"
)

// ToolCallEvent is one audited tool invocation.
type ToolCallEvent struct {
	EventType     string
	Tool          string
	Transport     string
	ClientIP      string
	Params        map[string]any
	Success       bool
	Code          string
	ErrorMessage  string
	Duration      time.Duration
	ResultSummary map[string]any
	SecurityLevel string
	SecurityFlags []string
}

// ToolCallLogger writes one structured log line per MCP tool call.
type ToolCallLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolCallLogger creates a ToolCallLogger.
func NewToolCallLogger(logger *zap.Logger) *ToolCallLogger {
	return &ToolCallLogger{logger: logger.Named("mcp-audit")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolCallLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolCallLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolCallLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	event := a.buildEvent(ctx, id, req)
	event.EventType = EventToolCall
	event.Success = result != nil && !result.IsError
	event.ResultSummary = summarizeResult(result)
	if code, ok := event.ResultSummary["code"].(string); ok {
		event.Code = code
	}

	classifyToolCallSecurity(event, result)
	a.record(event)
}

func (a *ToolCallLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	event := a.buildEvent(ctx, id, req)
	event.EventType = EventToolError
	event.Code = apperrors.CodeOf(err)
	event.ErrorMessage = logging.SanitizeError(err)

	classifyErrorSecurity(event, event.ErrorMessage)
	a.record(event)
}

func (a *ToolCallLogger) loadAndDeleteStart(id any) time.Time {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time)
	}
	return time.Now()
}

func (a *ToolCallLogger) buildEvent(ctx context.Context, id any, req *mcplib.CallToolRequest) *ToolCallEvent {
	caller := audit.CallerFromContext(ctx)
	return &ToolCallEvent{
		Tool:          req.Params.Name,
		Transport:     caller.Transport,
		ClientIP:      caller.ClientIP,
		Params:        sanitizeParams(req.Params.Arguments),
		Duration:      time.Since(a.loadAndDeleteStart(id)),
		SecurityLevel: SecurityNormal,
	}
}

func (a *ToolCallLogger) record(event *ToolCallEvent) {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("tool", event.Tool),
		zap.Bool("success", event.Success),
		zap.Duration("duration", event.Duration),
		zap.String("security_level", event.SecurityLevel),
	}
	if event.Transport != "" {
		fields = append(fields, zap.String("transport", event.Transport))
	}
	if event.ClientIP != "" {
		fields = append(fields, zap.String("client_ip", event.ClientIP))
	}
	if len(event.Params) > 0 {
		fields = append(fields, zap.Any("params", event.Params))
	}
	if event.Code != "" {
		fields = append(fields, zap.String("code", event.Code))
	}
	if event.ErrorMessage != "" {
		fields = append(fields, zap.String("error", event.ErrorMessage))
	}
	if len(event.ResultSummary) > 0 {
		fields = append(fields, zap.Any("result", event.ResultSummary))
	}
	if len(event.SecurityFlags) > 0 {
		fields = append(fields, zap.Strings("security_flags", event.SecurityFlags))
	}

	switch event.SecurityLevel {
	case SecurityCritical:
		a.logger.Error("MCP tool call", fields...)
	case SecurityWarning:
		a.logger.Warn("MCP tool call", fields...)
	default:
		a.logger.Info("MCP tool call", fields...)
	}
}

// maxSQLSize is the maximum size of SQL strings kept in audit logs.
const maxSQLSize = 10240 // 10KB

// sqlStringLiteralPattern matches SQL string literals: 'value', 'it''s escaped', etc.
var sqlStringLiteralPattern = regexp.MustCompile(`'(?:[^']*(?:'')?)*[^']*'`)

var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|api_?key|credential|private_?key)`)

// sanitizeParams sanitizes request parameters before they are logged:
// SQL truncation, string literal redaction, sensitive value hashing.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if sensitiveKeyPattern.MatchString(key) {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		return sanitizeStringParam(key, val)
	case map[string]any:
		return sanitizeParams(val)
	default:
		return value
	}
}

func sanitizeStringParam(key string, val string) string {
	if len(val) > maxSQLSize {
		val = val[:maxSQLSize] + "...[truncated]"
	}
	if isSQLParam(key) {
		val = redactSQLStringLiterals(val)
	}
	return val
}

// isSQLParam returns true if a parameter key likely contains SQL.
func isSQLParam(key string) bool {
	lower := strings.ToLower(key)
	return lower == "sql" || lower == "query" || strings.HasSuffix(lower, "_sql") || strings.HasSuffix(lower, "_query")
}

// redactSQLStringLiterals replaces string literal values in SQL with '***',
// preserving the query structure while hiding user-provided values.
func redactSQLStringLiterals(sql string) string {
	return sqlStringLiteralPattern.ReplaceAllString(sql, "'***'")
}

// hashSensitiveValue returns a SHA-256 hash prefix, allowing correlation
// across audit entries without logging the value.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// summarizeResult creates a compact summary of the tool result.
func summarizeResult(result *mcplib.CallToolResult) map[string]any {
	if result == nil {
		return nil
	}

	summary := map[string]any{
		"is_error": result.IsError,
	}

	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		summary["content_count"] = len(result.Content)
		extractSummaryFields(tc.Text, summary)

		text := tc.Text
		if len(text) > 200 {
			text = text[:200] + "...[truncated]"
		}
		summary["preview"] = text
		break
	}

	return summary
}

// extractSummaryFields copies row_count, status and an error code out of a
// JSON tool response without decoding the rows.
func extractSummaryFields(text string, summary map[string]any) {
	var partial struct {
		RowCount *int    `json:"row_count"`
		Status   string  `json:"status"`
		Code     string  `json:"code"`
		Snapshot *int64  `json:"snapshot_version"`
		Message  *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(text), &partial); err != nil {
		return
	}
	if partial.RowCount != nil {
		summary["row_count"] = *partial.RowCount
	}
	if partial.Status != "" {
		summary["status"] = partial.Status
	}
	if partial.Snapshot != nil {
		summary["snapshot_version"] = *partial.Snapshot
	}
	if partial.Code != "" {
		summary["code"] = partial.Code
	}
	if partial.Message != nil {
		summary["message"] = *partial.Message
	}
}

// classifyToolCallSecurity upgrades the event from the error code carried in
// an error result.
func classifyToolCallSecurity(event *ToolCallEvent, result *mcplib.CallToolResult) {
	if result == nil || !result.IsError {
		return
	}

	message, _ := event.ResultSummary["message"].(string)
	switch event.Code {
	case apperrors.CodeUnsafeQuery:
		if strings.Contains(strings.ToLower(message), "injection") {
			event.EventType = EventSQLInjectionAttempt
			event.SecurityLevel = SecurityCritical
			event.SecurityFlags = append(event.SecurityFlags, "sql_injection_attempt")
			return
		}
		event.EventType = EventUnsafeQueryRejection
		event.SecurityLevel = SecurityWarning
		event.SecurityFlags = append(event.SecurityFlags, "unsafe_query")
	case apperrors.CodeAdmissionTimeout:
		event.EventType = EventAdmissionSaturated
		event.SecurityLevel = SecurityWarning
		event.SecurityFlags = append(event.SecurityFlags, "admission_saturated")
	}
}

// classifyErrorSecurity inspects a protocol-level error message.
func classifyErrorSecurity(event *ToolCallEvent, errMsg string) {
	lower := strings.ToLower(errMsg)

	if strings.Contains(lower, "injection") {
		event.EventType = EventSQLInjectionAttempt
		event.SecurityLevel = SecurityCritical
		event.SecurityFlags = append(event.SecurityFlags, "sql_injection_attempt")
	} else if strings.Contains(lower, "authentication") || strings.Contains(lower, "unauthorized") {
		event.SecurityLevel = SecurityWarning
		event.SecurityFlags = append(event.SecurityFlags, "auth_failure")
	}
}
