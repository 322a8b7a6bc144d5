package models

import (
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
)

// Operation is the kind of question being asked.
type Operation string

const (
	OperationRead      Operation = "read"
	OperationAggregate Operation = "aggregate"
)

// Complexity classifies a plan by join count and aggregation shape.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// RowLimitDecision records whether the validator must inject a row cap.
type RowLimitDecision string

const (
	RowLimitApply         RowLimitDecision = "apply"
	RowLimitSkipAggregate RowLimitDecision = "skip_aggregate"
	RowLimitSkipSelective RowLimitDecision = "skip_selective"
)

// PredicateOp is a comparison operator in a rendered WHERE clause.
type PredicateOp string

const (
	OpEqual        PredicateOp = "="
	OpIn           PredicateOp = "IN"
	OpBetween      PredicateOp = "BETWEEN"
	OpGreaterEqual PredicateOp = ">="
	OpLessEqual    PredicateOp = "<="
	OpLike         PredicateOp = "LIKE"
)

// ValueKind says how predicate values are rendered.
type ValueKind string

const (
	ValueText   ValueKind = "text"
	ValueNumber ValueKind = "number"
	ValueDate   ValueKind = "date"
)

// ColumnRef points at a column of a table in the snapshot.
type ColumnRef struct {
	Table  string `json:"table"` // qualified
	Column string `json:"column"`
}

func (c ColumnRef) String() string { return c.Table + "." + c.Column }

// Predicate is one resolved filter condition.
type Predicate struct {
	Column ColumnRef   `json:"column"`
	Op     PredicateOp `json:"op"`
	Values []string    `json:"values"`
	Kind   ValueKind   `json:"kind"`
	Term   string      `json:"term,omitempty"` // phrase the predicate was extracted from
}

// IsBounded reports whether the predicate restricts the column to a finite
// set or range of values.
func (p Predicate) IsBounded(maxInList int) bool {
	switch p.Op {
	case OpEqual, OpBetween:
		return true
	case OpIn:
		return len(p.Values) > 0 && len(p.Values) <= maxInList
	}
	return false
}

// AggregateFunc is a SQL aggregate function.
type AggregateFunc string

const (
	AggCount AggregateFunc = "COUNT"
	AggSum   AggregateFunc = "SUM"
	AggAvg   AggregateFunc = "AVG"
	AggMin   AggregateFunc = "MIN"
	AggMax   AggregateFunc = "MAX"
)

// Aggregate is the aggregate expression of a plan. A nil Column means COUNT(*).
type Aggregate struct {
	Func   AggregateFunc `json:"func"`
	Column *ColumnRef    `json:"column,omitempty"`
}

// QueryPlan is a per-request plan. It is never persisted.
type QueryPlan struct {
	SnapshotVersion int64              `json:"snapshot_version"`
	Dialect         Dialect            `json:"dialect"`
	Category        Category           `json:"category"`
	Tables          []string           `json:"tables"` // primary table first
	JoinPath        []RelationshipEdge `json:"join_path"`
	Predicates      []Predicate        `json:"predicates"`
	Projection      []ColumnRef        `json:"projection"`
	GroupBy         []ColumnRef        `json:"group_by,omitempty"`
	Aggregate       *Aggregate         `json:"aggregate,omitempty"`
	Operation       Operation          `json:"operation"`
	Complexity      Complexity         `json:"complexity"`
	RowLimit        RowLimitDecision   `json:"row_limit"`
	SQL             string             `json:"sql"`
	Warnings        []string           `json:"warnings,omitempty"`
	DroppedTerms    []string           `json:"dropped_terms,omitempty"`
}

// IsAggregate reports whether the plan aggregates or groups.
func (p *QueryPlan) IsAggregate() bool {
	return p.Operation == OperationAggregate || p.Aggregate != nil || len(p.GroupBy) > 0
}

// HasFilter reports whether the plan has any predicate.
func (p *QueryPlan) HasFilter() bool {
	return len(p.Predicates) > 0
}

// JoinPathStrings renders the join path for summaries.
func (p *QueryPlan) JoinPathStrings() []string {
	out := make([]string, len(p.JoinPath))
	for i, e := range p.JoinPath {
		out[i] = e.String()
	}
	return out
}

// Summary is the envelope view of the plan.
func (p *QueryPlan) Summary(status PlanStatus) *PlanSummary {
	return &PlanSummary{
		Status:     status,
		Tables:     append([]string(nil), p.Tables...),
		JoinPath:   p.JoinPathStrings(),
		Operation:  p.Operation,
		Complexity: p.Complexity,
		RowLimit:   p.RowLimit,
	}
}

// PlanStatus tells callers which variant of a PlanOutcome they hold.
type PlanStatus string

const (
	PlanSuccess  PlanStatus = "success"
	PlanFallback PlanStatus = "fallback"
	PlanFailure  PlanStatus = "failure"
)

// PlanOutcome is the planner's result. A fallback carries both a degraded
// single-table plan and the failure that caused it. A failure has no plan.
type PlanOutcome struct {
	Status  PlanStatus
	Plan    *QueryPlan
	Failure *apperrors.PlanningFailure
}

// Usable reports whether the outcome carries an executable plan.
func (o PlanOutcome) Usable() bool {
	return o.Plan != nil && o.Status != PlanFailure
}

// PlanSummary describes a plan without its SQL.
type PlanSummary struct {
	Status     PlanStatus       `json:"status"`
	Tables     []string         `json:"tables"`
	JoinPath   []string         `json:"join_path,omitempty"`
	Operation  Operation        `json:"operation"`
	Complexity Complexity       `json:"complexity"`
	RowLimit   RowLimitDecision `json:"row_limit"`
	Fallback   string           `json:"fallback_reason,omitempty"`
}
