package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	sqlpkg "github.com/ekaya-inc/ekaya-nlq/pkg/sql"
)

// rowLimitWarning is attached whenever the validator caps an unbounded read.
const rowLimitWarning = "Results limited to %d rows; add filters (for example a date range, status or item) to narrow the result."

// ValidatorConfig holds the limits enforced by SafetyValidator.
type ValidatorConfig struct {
	Dialect           models.Dialect
	MaxRows           int
	MaxSubqueryDepth  int
	KeyColumnSuffixes []string
}

// ValidatedQuery is SQL that passed the safety gate. It can only be built by
// SafetyValidator, so the executor never sees unchecked text.
type ValidatedQuery struct {
	sql      string
	original string
	dialect  models.Dialect
	decision models.RowLimitDecision
	applied  bool
	limit    int
	warnings []string
}

// SQL returns the statement to execute, with any row cap applied.
func (q *ValidatedQuery) SQL() string { return q.sql }

// OriginalSQL returns the statement as it was submitted.
func (q *ValidatedQuery) OriginalSQL() string { return q.original }

// Dialect returns the SQL flavor the statement was checked against.
func (q *ValidatedQuery) Dialect() models.Dialect { return q.dialect }

// RowLimitDecision reports why a cap was or was not applied.
func (q *ValidatedQuery) RowLimitDecision() models.RowLimitDecision { return q.decision }

// RowLimitApplied reports whether the validator injected or lowered a cap.
func (q *ValidatedQuery) RowLimitApplied() bool { return q.applied }

// Limit returns the effective outer row cap, or 0 when the statement is uncapped.
func (q *ValidatedQuery) Limit() int { return q.limit }

// Warnings returns the advisories raised during validation.
func (q *ValidatedQuery) Warnings() []string { return append([]string(nil), q.warnings...) }

// SafetyValidator is the mandatory gate between planning and execution.
// It rejects anything that is not a single read-only SELECT and caps
// result size for unbounded reads.
type SafetyValidator struct {
	cfg     ValidatorConfig
	isKey   sqlpkg.KeyColumnFunc
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewSafetyValidator creates a validator. auditor may be nil in tests.
func NewSafetyValidator(cfg ValidatorConfig, auditor *audit.SecurityAuditor, logger *zap.Logger) *SafetyValidator {
	if cfg.Dialect == "" {
		cfg.Dialect = models.DialectPostgres
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	if cfg.MaxSubqueryDepth <= 0 {
		cfg.MaxSubqueryDepth = 2
	}
	if len(cfg.KeyColumnSuffixes) == 0 {
		cfg.KeyColumnSuffixes = DefaultPlannerConfig().KeyColumnSuffixes
	}
	return &SafetyValidator{
		cfg:     cfg,
		isKey:   sqlpkg.SuffixKeyColumns(cfg.KeyColumnSuffixes),
		auditor: auditor,
		logger:  logger.Named("validator"),
	}
}

// MaxRows returns the cap applied to unbounded reads.
func (v *SafetyValidator) MaxRows() int { return v.cfg.MaxRows }

// Validate checks SQL produced by the planner. The plan's row-limit decision
// is honored, except that aggregate SQL is never capped.
func (v *SafetyValidator) Validate(ctx context.Context, requestID uuid.UUID, plan *models.QueryPlan) (*ValidatedQuery, error) {
	if plan == nil || plan.SQL == "" {
		return nil, &apperrors.UnsafeQueryError{Reason: "empty statement"}
	}
	dialect := plan.Dialect
	if dialect == "" {
		dialect = v.cfg.Dialect
	}
	return v.validate(ctx, requestID, plan.SQL, dialect, plan.RowLimit)
}

// ValidateSQL checks caller-supplied SQL. An empty decision means the
// validator detects aggregates and selective filters from the text itself.
func (v *SafetyValidator) ValidateSQL(ctx context.Context, requestID uuid.UUID, sqlQuery string, decision models.RowLimitDecision) (*ValidatedQuery, error) {
	return v.validate(ctx, requestID, sqlQuery, v.cfg.Dialect, decision)
}

func (v *SafetyValidator) validate(ctx context.Context, requestID uuid.UUID, sqlQuery string, dialect models.Dialect, decision models.RowLimitDecision) (*ValidatedQuery, error) {
	stmt, err := sqlpkg.CheckReadOnly(sqlQuery, sqlpkg.Policy{
		Dialect:          dialect,
		MaxSubqueryDepth: v.cfg.MaxSubqueryDepth,
	})
	if err != nil {
		v.reject(ctx, requestID, sqlQuery, err)
		return nil, err
	}

	v.screenLiterals(ctx, requestID, stmt)

	q := &ValidatedQuery{
		sql:      stmt.SQL,
		original: sqlQuery,
		dialect:  dialect,
	}

	switch {
	case sqlpkg.IsAggregate(stmt.Tokens):
		q.decision = models.RowLimitSkipAggregate
	case decision == models.RowLimitSkipAggregate, decision == models.RowLimitSkipSelective:
		q.decision = decision
	case decision == "" && sqlpkg.HasSelectiveFilter(stmt.Tokens, v.isKey):
		q.decision = models.RowLimitSkipSelective
	default:
		q.decision = models.RowLimitApply
	}

	if q.decision != models.RowLimitApply {
		v.logger.Debug("Row limit skipped",
			zap.String("request_id", requestID.String()),
			zap.String("decision", string(q.decision)),
		)
		return q, nil
	}

	res, err := sqlpkg.ApplyRowLimit(stmt, v.cfg.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("apply row limit: %w", err)
	}
	q.sql = res.SQL
	q.applied = res.Applied
	q.limit = res.Limit
	if res.Applied {
		q.warnings = append(q.warnings, fmt.Sprintf(rowLimitWarning, res.Limit))
	}
	return q, nil
}

func (v *SafetyValidator) reject(ctx context.Context, requestID uuid.UUID, sqlQuery string, err error) {
	details := audit.UnsafeQueryDetails{SQL: sqlQuery, Reason: err.Error()}
	var unsafe *apperrors.UnsafeQueryError
	if errors.As(err, &unsafe) {
		details.Reason = unsafe.Reason
		details.Token = strings.ToUpper(unsafe.Token)
	}

	v.logger.Info("Rejected unsafe SQL",
		zap.String("request_id", requestID.String()),
		zap.String("reason", details.Reason),
		zap.String("sql", logging.SanitizeQuery(sqlQuery)),
	)
	if v.auditor != nil {
		v.auditor.LogUnsafeQuery(ctx, requestID, details)
	}
}

// screenLiterals reports suspicious string literals. Rendered literals are
// already escaped, so a hit is recorded rather than rejected.
func (v *SafetyValidator) screenLiterals(ctx context.Context, requestID uuid.UUID, stmt *sqlpkg.Statement) {
	for _, hit := range sqlpkg.ScreenLiterals(stmt.Tokens) {
		if v.auditor == nil {
			v.logger.Warn("Suspicious literal in SQL",
				zap.String("request_id", requestID.String()),
				zap.String("param", hit.Source),
				zap.String("fingerprint", hit.Fingerprint),
			)
			continue
		}
		v.auditor.LogInjectionAttempt(ctx, requestID, audit.SQLInjectionDetails{
			Stage:       "validator",
			ParamName:   hit.Source,
			ParamValue:  hit.Value,
			Fingerprint: hit.Fingerprint,
		})
	}
}
