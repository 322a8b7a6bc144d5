package models

import "time"

// ExecutionState is a step of the per-request executor state machine.
type ExecutionState string

const (
	StateQueued    ExecutionState = "queued"
	StateAdmitted  ExecutionState = "admitted"
	StateExecuting ExecutionState = "executing"
	StateCompleted ExecutionState = "completed"
	StateTimedOut  ExecutionState = "timed_out"
	StateFailed    ExecutionState = "failed"
)

// IsTerminal reports whether no further transition can follow.
func (s ExecutionState) IsTerminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateFailed
}

// Completeness rates whether a result holds every matching row.
type Completeness string

const (
	CompletenessComplete Completeness = "complete"
	CompletenessPartial  Completeness = "partial"
	CompletenessEmpty    Completeness = "empty"
)

// Reliability rates how well the result answers the question.
type Reliability string

const (
	ReliabilityHigh   Reliability = "high"
	ReliabilityMedium Reliability = "medium"
	ReliabilityLow    Reliability = "low"
)

// ColumnInfo describes a result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Diagnostic is an advisory finding from the performance analyzer.
type Diagnostic struct {
	RuleID   string `json:"rule_id"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Table    string `json:"table,omitempty"`
}

// IndexRecommendation is a suggested index, keyed by table and columns.
type IndexRecommendation struct {
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	Rationale string   `json:"rationale"`
	Statement string   `json:"statement"`
}

// ExecutionResult is what the executor produces for one validated query.
// Rows is nil unless the state is StateCompleted.
type ExecutionResult struct {
	State         ExecutionState        `json:"state"`
	Columns       []ColumnInfo          `json:"columns"`
	Rows          []map[string]any      `json:"rows"`
	RowCount      int                   `json:"row_count"`
	Elapsed       time.Duration         `json:"elapsed"`
	Truncated     bool                  `json:"truncated"`
	RowLimit      int                   `json:"row_limit,omitempty"`
	Completeness  Completeness          `json:"completeness,omitempty"`
	Reliability   Reliability           `json:"reliability,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
	Diagnostics   []Diagnostic          `json:"diagnostics,omitempty"`
	Pattern       string                `json:"pattern,omitempty"`
	Indexes       []IndexRecommendation `json:"index_recommendations,omitempty"`
	ErrorCategory string                `json:"error_category,omitempty"`
}

// ErrorInfo is the caller-facing form of an error: a stable code plus an
// explanation that never carries raw driver text for planning or validation.
type ErrorInfo struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

// SubResult is one category's share of a multi-category request.
type SubResult struct {
	Category     Category         `json:"category"`
	Status       string           `json:"status"`
	SQL          string           `json:"sql,omitempty"`
	Plan         *PlanSummary     `json:"plan,omitempty"`
	Columns      []ColumnInfo     `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowCount     int              `json:"row_count"`
	Completeness Completeness     `json:"completeness,omitempty"`
	Reliability  Reliability      `json:"reliability,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
	Error        *ErrorInfo       `json:"error,omitempty"`
}

// Envelope statuses beyond the executor's terminal states.
const (
	StatusRejected = "rejected"
	StatusNoPlan   = "no_plan"
	StatusPlanned  = "planned"
)

// ResultEnvelope is the response to runQuery.
type ResultEnvelope struct {
	RequestID            string           `json:"request_id"`
	SnapshotVersion      int64            `json:"snapshot_version"`
	Status               string           `json:"status"`
	Category             Category         `json:"category,omitempty"`
	SQL                  string           `json:"sql,omitempty"`
	Columns              []ColumnInfo     `json:"columns,omitempty"`
	Rows                 []map[string]any `json:"rows"`
	RowCount             int              `json:"row_count"`
	ElapsedMs            int64            `json:"elapsed_ms"`
	Truncated            bool             `json:"truncated"`
	Completeness         Completeness     `json:"completeness,omitempty"`
	Reliability          Reliability      `json:"reliability,omitempty"`
	Warnings             []string         `json:"warnings,omitempty"`
	Diagnostics          []Diagnostic     `json:"diagnostics,omitempty"`
	Pattern              string           `json:"pattern,omitempty"`
	IndexRecommendations []string         `json:"index_recommendations,omitempty"`
	Plan                 *PlanSummary     `json:"plan,omitempty"`
	CorrelationKey       string           `json:"correlation_key,omitempty"`
	SubResults           []SubResult      `json:"sub_results,omitempty"`
	Error                *ErrorInfo       `json:"error,omitempty"`
}
