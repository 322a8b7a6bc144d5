package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// StateObserver is told about every executor state transition.
type StateObserver func(requestID uuid.UUID, state models.ExecutionState)

// ExecutorConfig configures the query executor.
type ExecutorConfig struct {
	Timeout time.Duration // per-request execution deadline
}

// Executor runs validated queries. Every execution holds an admission token
// and a dedicated connection, both released before Execute returns.
type Executor struct {
	leases    *datasource.LeaseTracker
	admission *Admission
	timeout   time.Duration
	auditor   *audit.SecurityAuditor
	observer  StateObserver
	logger    *zap.Logger
}

// NewExecutor creates an executor. auditor may be nil.
func NewExecutor(leases *datasource.LeaseTracker, admission *Admission, cfg ExecutorConfig, auditor *audit.SecurityAuditor, logger *zap.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &Executor{
		leases:    leases,
		admission: admission,
		timeout:   cfg.Timeout,
		auditor:   auditor,
		logger:    logger.Named("executor"),
	}
}

// SetObserver registers a state observer. It must be called before the
// executor is shared.
func (e *Executor) SetObserver(o StateObserver) { e.observer = o }

// Admission returns the budget shared by every execution.
func (e *Executor) Admission() *Admission { return e.admission }

// Leases returns the connection lease tracker.
func (e *Executor) Leases() *datasource.LeaseTracker { return e.leases }

// Timeout returns the per-request deadline.
func (e *Executor) Timeout() time.Duration { return e.timeout }

type execution struct {
	requestID uuid.UUID
	state     models.ExecutionState
	started   time.Time
}

func (e *Executor) transition(x *execution, to models.ExecutionState) {
	e.logger.Debug("Execution state",
		zap.String("request_id", x.requestID.String()),
		zap.String("from", string(x.state)),
		zap.String("to", string(to)),
	)
	x.state = to
	if e.observer != nil {
		e.observer(x.requestID, to)
	}
}

// Execute runs q and returns its rows. On failure the returned result
// carries the terminal state alongside the error: *apperrors.AdmissionTimeout,
// *apperrors.ExecutionTimeout or *apperrors.ExecutionError.
func (e *Executor) Execute(ctx context.Context, requestID uuid.UUID, q *ValidatedQuery, tables []string) (*models.ExecutionResult, error) {
	x := &execution{requestID: requestID, started: time.Now()}
	e.transition(x, models.StateQueued)

	result, err := e.run(ctx, x, q)
	result.State = x.state
	result.Elapsed = time.Since(x.started)

	if e.auditor != nil {
		e.auditor.LogQueryExecution(ctx, requestID, audit.QueryExecutionDetails{
			Tables:    tables,
			State:     string(x.state),
			RowCount:  result.RowCount,
			ElapsedMs: result.Elapsed.Milliseconds(),
		})
	}
	return result, err
}

func (e *Executor) run(ctx context.Context, x *execution, q *ValidatedQuery) (*models.ExecutionResult, error) {
	result := &models.ExecutionResult{}

	token, err := e.admission.Acquire(ctx)
	if err != nil {
		e.transition(x, models.StateFailed)
		return result, err
	}
	defer token.Release()
	e.transition(x, models.StateAdmitted)

	deadline := time.Now().Add(e.timeout)
	execCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	lease, err := e.leases.Acquire(execCtx, deadline)
	if err != nil {
		return result, e.fail(ctx, x, result, execCtx, err, apperrors.CategoryConnectivity)
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			e.logger.Debug("Connection close failed", zap.String("error", logging.SanitizeError(rerr)))
		}
	}()

	e.transition(x, models.StateExecuting)
	e.logger.Debug("Executing query",
		zap.String("request_id", x.requestID.String()),
		zap.String("sql", logging.SanitizeQuery(q.SQL())),
		zap.Time("deadline", deadline),
	)

	rows, err := query(execCtx, lease.Conn(), q.SQL())
	if err != nil {
		return result, e.fail(ctx, x, result, execCtx, err, apperrors.CategoryUnknown)
	}

	result.Columns = make([]models.ColumnInfo, len(rows.Columns))
	for i, c := range rows.Columns {
		result.Columns[i] = models.ColumnInfo{Name: c.Name, Type: c.Type}
	}
	result.Rows = rows.Rows
	if result.Rows == nil {
		result.Rows = []map[string]any{}
	}
	result.RowCount = len(result.Rows)
	result.RowLimit = q.Limit()
	result.Completeness = RateCompleteness(result.RowCount, q)
	result.Truncated = result.Completeness == models.CompletenessPartial
	result.Warnings = q.Warnings()

	e.transition(x, models.StateCompleted)
	e.logger.Info("Query completed",
		zap.String("request_id", x.requestID.String()),
		zap.Int("rows", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", time.Since(x.started)),
	)
	return result, nil
}

// query calls the driver and turns a panic while reading rows into an error
// so the deferred releases in run still see a normal return.
func query(ctx context.Context, conn datasource.Conn, sqlQuery string) (res *datasource.QueryResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("panic while reading rows: %v", r)
		}
	}()
	return conn.Query(ctx, sqlQuery)
}

// fail moves x to its terminal error state and builds the typed error.
// fallback is the category used when the driver did not classify err.
func (e *Executor) fail(ctx context.Context, x *execution, result *models.ExecutionResult, execCtx context.Context, err error, fallback apperrors.ErrorCategory) error {
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		e.transition(x, models.StateTimedOut)
		e.logger.Warn("Query timed out",
			zap.String("request_id", x.requestID.String()),
			zap.Duration("timeout", e.timeout),
		)
		return &apperrors.ExecutionTimeout{Timeout: e.timeout, Cause: err}
	}

	category := datasource.CategoryOf(err)
	if category == apperrors.CategoryUnknown {
		category = fallback
	}
	message := logging.SanitizeError(err)
	if ctx.Err() != nil {
		message = "request cancelled"
		err = ctx.Err()
	}

	e.transition(x, models.StateFailed)
	result.ErrorCategory = string(category)
	e.logger.Error("Query failed",
		zap.String("request_id", x.requestID.String()),
		zap.String("category", string(category)),
		zap.String("error", message),
	)
	return &apperrors.ExecutionError{Category: category, Message: message, Cause: err}
}
