//go:build postgres || all_adapters

package postgres

import (
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
)

// classifyError wraps a pgx error with a category derived from its SQLSTATE.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return datasource.NewQueryError(categoryForSQLState(pgErr.Code), pgErr.Code, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return datasource.NewQueryError(apperrors.CategoryConnectivity, "", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return datasource.NewQueryError(apperrors.CategoryConnectivity, "", err)
	}

	return datasource.NewQueryError(apperrors.CategoryUnknown, "", err)
}

// categoryForSQLState maps SQLSTATE codes onto error categories.
func categoryForSQLState(code string) apperrors.ErrorCategory {
	switch {
	case code == "42501", strings.HasPrefix(code, "28"):
		// insufficient_privilege, invalid authorization
		return apperrors.CategoryPermission
	case strings.HasPrefix(code, "42"), strings.HasPrefix(code, "22"):
		// syntax error or access rule violation, data exception
		return apperrors.CategorySyntax
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03", code == "53300":
		// connection exception, admin shutdown, cannot connect now, too many connections
		return apperrors.CategoryConnectivity
	default:
		return apperrors.CategoryUnknown
	}
}
