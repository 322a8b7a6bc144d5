// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a literal,
	// either extracted from a question or found in generated SQL.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventUnsafeQueryRejected is logged when the safety validator rejects SQL.
	EventUnsafeQueryRejected SecurityEventType = "unsafe_query_rejected"
	// EventQueryExecution is logged for every executed query (can be high volume).
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	RequestID uuid.UUID         `json:"request_id"`
	Transport string            `json:"transport,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	Stage       string `json:"stage"`      // "intent" or "validator"
	ParamName   string `json:"param_name"` // query term or literal position
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// UnsafeQueryDetails describes a validator rejection.
type UnsafeQueryDetails struct {
	Reason string `json:"reason"`
	Token  string `json:"token,omitempty"`
	SQL    string `json:"sql"`
}

// QueryExecutionDetails summarizes an executed query.
type QueryExecutionDetails struct {
	Tables    []string `json:"tables"`
	State     string   `json:"state"`
	RowCount  int      `json:"row_count"`
	ElapsedMs int64    `json:"elapsed_ms"`
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) newEvent(ctx context.Context, eventType SecurityEventType, requestID uuid.UUID, details any, severity string) SecurityEvent {
	caller := CallerFromContext(ctx)
	return SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		RequestID: requestID,
		Transport: caller.Transport,
		ClientIP:  caller.ClientIP,
		Details:   details,
		Severity:  severity,
	}
}

// LogInjectionAttempt records a detected SQL injection attempt with full context.
// This is logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, requestID uuid.UUID, details SQLInjectionDetails) {
	details.ParamValue = logging.TruncateString(details.ParamValue, logging.MaxQueryLogLength)
	event := a.newEvent(ctx, EventSQLInjectionAttempt, requestID, details, "critical")

	// Marshaling known types cannot fail
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", requestID.String()),
		zap.String("stage", details.Stage),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	)
}

// LogUnsafeQuery records a validator rejection at WARN level. Most
// rejections come from ambiguous phrasing rather than attacks.
func (a *SecurityAuditor) LogUnsafeQuery(ctx context.Context, requestID uuid.UUID, details UnsafeQueryDetails) {
	details.SQL = logging.SanitizeQuery(details.SQL)
	event := a.newEvent(ctx, EventUnsafeQueryRejected, requestID, details, "warning")

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Unsafe query rejected",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", requestID.String()),
		zap.String("reason", details.Reason),
		zap.String("token", details.Token),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	)
}

// LogQueryExecution records an executed query for the audit trail at INFO level.
func (a *SecurityAuditor) LogQueryExecution(ctx context.Context, requestID uuid.UUID, details QueryExecutionDetails) {
	event := a.newEvent(ctx, EventQueryExecution, requestID, details, "info")

	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Query executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("request_id", requestID.String()),
		zap.Strings("tables", details.Tables),
		zap.String("state", details.State),
		zap.Int("row_count", details.RowCount),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	)
}
