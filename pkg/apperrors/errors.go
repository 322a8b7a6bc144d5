package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrSchemaNotFound   = errors.New("schema not found")
	ErrUnsafeQuery      = errors.New("unsafe query")
	ErrPlanningFailure  = errors.New("planning failure")
	ErrExecutionTimeout = errors.New("execution timeout")
	ErrExecution        = errors.New("execution error")
	ErrAdmissionTimeout = errors.New("admission timeout")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// Stable codes used in result envelopes and MCP error results.
const (
	CodeSchemaNotFound   = "schema_not_found"
	CodeUnsafeQuery      = "unsafe_query"
	CodePlanningFailure  = "planning_failure"
	CodeExecutionTimeout = "execution_timeout"
	CodeExecutionError   = "execution_error"
	CodeAdmissionTimeout = "admission_timeout"
	CodeInvalidArgument  = "invalid_argument"
)

// SchemaNotFoundError is returned when no catalog snapshot is loaded or a
// referenced table is not part of the snapshot the request is bound to.
type SchemaNotFoundError struct {
	Table   string
	Version int64
	Reason  string
}

func (e *SchemaNotFoundError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("schema not found: %s", e.Reason)
	}
	return fmt.Sprintf("schema not found: table %q is not in catalog version %d", e.Table, e.Version)
}

func (e *SchemaNotFoundError) Is(target error) bool { return target == ErrSchemaNotFound }
func (e *SchemaNotFoundError) Code() string         { return CodeSchemaNotFound }

// UnsafeQueryError is a validator rejection. SQL carrying this error never
// reaches a database connection.
type UnsafeQueryError struct {
	Reason string
	Token  string // offending keyword or construct, if any
}

func (e *UnsafeQueryError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("unsafe query: %s (%s)", e.Reason, strings.ToUpper(e.Token))
	}
	return "unsafe query: " + e.Reason
}

func (e *UnsafeQueryError) Is(target error) bool { return target == ErrUnsafeQuery }
func (e *UnsafeQueryError) Code() string         { return CodeUnsafeQuery }

// PlanningFailure reports that no viable plan connects the required tables.
// It is carried inside a fallback plan outcome, and only surfaces as an error
// when no fallback could be produced.
type PlanningFailure struct {
	Reason         string
	RequiredTables []string
	Unreachable    []string
}

func (e *PlanningFailure) Error() string {
	if len(e.Unreachable) > 0 {
		return fmt.Sprintf("planning failure: %s (unreachable: %s)", e.Reason, strings.Join(e.Unreachable, ", "))
	}
	return "planning failure: " + e.Reason
}

func (e *PlanningFailure) Is(target error) bool { return target == ErrPlanningFailure }
func (e *PlanningFailure) Code() string         { return CodePlanningFailure }

// ExecutionTimeout is returned when the per-request deadline fired and the
// in-flight query was cancelled.
type ExecutionTimeout struct {
	Timeout time.Duration
	Cause   error
}

func (e *ExecutionTimeout) Error() string {
	return fmt.Sprintf("query exceeded the %s deadline and was cancelled", e.Timeout)
}

func (e *ExecutionTimeout) Unwrap() error        { return e.Cause }
func (e *ExecutionTimeout) Is(target error) bool { return target == ErrExecutionTimeout }
func (e *ExecutionTimeout) Code() string         { return CodeExecutionTimeout }

// ErrorCategory classifies driver-level failures.
type ErrorCategory string

const (
	CategorySyntax       ErrorCategory = "syntax"
	CategoryPermission   ErrorCategory = "permission"
	CategoryConnectivity ErrorCategory = "connectivity"
	CategoryUnknown      ErrorCategory = "unknown"
)

// ExecutionError wraps a database failure. Message has already been
// sanitized of credentials.
type ExecutionError struct {
	Category ErrorCategory
	Message  string
	Cause    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error (%s): %s", e.Category, e.Message)
}

func (e *ExecutionError) Unwrap() error        { return e.Cause }
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }
func (e *ExecutionError) Code() string         { return CodeExecutionError }

// AdmissionTimeout is returned when a request waited longer than allowed for a
// concurrency slot.
type AdmissionTimeout struct {
	Waited time.Duration
	Limit  int
}

func (e *AdmissionTimeout) Error() string {
	return fmt.Sprintf("no execution slot became available within %s (limit %d concurrent queries)", e.Waited, e.Limit)
}

func (e *AdmissionTimeout) Is(target error) bool { return target == ErrAdmissionTimeout }
func (e *AdmissionTimeout) Code() string         { return CodeAdmissionTimeout }

// InvalidArgumentError is a malformed tool or API argument.
type InvalidArgumentError struct {
	Param  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Param, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }
func (e *InvalidArgumentError) Code() string         { return CodeInvalidArgument }

// Coded is implemented by every error in the taxonomy.
type Coded interface {
	error
	Code() string
}

// CodeOf returns the stable code for err, or "internal_error" when err is not
// part of the taxonomy.
func CodeOf(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "internal_error"
}
