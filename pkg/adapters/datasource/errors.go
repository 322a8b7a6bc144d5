package datasource

import (
	"context"
	"errors"
	"net"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
)

// QueryError wraps a driver failure with the category the adapter derived
// from the driver's error code.
type QueryError struct {
	Category apperrors.ErrorCategory
	Code     string // SQLSTATE or server error number, if known
	Err      error
}

func (e *QueryError) Error() string { return e.Err.Error() }
func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError wraps err unless it is nil or a context error, which callers
// need to see unwrapped to tell a deadline from a driver failure.
func NewQueryError(category apperrors.ErrorCategory, code string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &QueryError{Category: category, Code: code, Err: err}
}

// CategoryOf reports the category of a connection or query error.
// Errors that did not pass through an adapter are classified as
// connectivity when they are network errors and unknown otherwise.
func CategoryOf(err error) apperrors.ErrorCategory {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Category
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.CategoryConnectivity
	}
	return apperrors.CategoryUnknown
}
