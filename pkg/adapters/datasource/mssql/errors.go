package mssql

import (
	"errors"
	"net"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
)

// classifyError wraps a driver error with a category derived from the
// server error number.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return datasource.NewQueryError(categoryForNumber(msErr.Number), strconv.Itoa(int(msErr.Number)), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return datasource.NewQueryError(apperrors.CategoryConnectivity, "", err)
	}

	// Login failures surface before a TDS error token is available.
	if strings.Contains(err.Error(), "Login failed") {
		return datasource.NewQueryError(apperrors.CategoryPermission, "18456", err)
	}

	return datasource.NewQueryError(apperrors.CategoryUnknown, "", err)
}

// categoryForNumber maps SQL Server error numbers onto error categories.
func categoryForNumber(number int32) apperrors.ErrorCategory {
	switch number {
	case 102, 156, 170, 207, 208, 209, 4104, 8114, 245:
		// incorrect syntax, invalid column or object, ambiguous column, conversion failures
		return apperrors.CategorySyntax
	case 229, 230, 262, 297, 916, 4060, 18456:
		// permission denied, no database access, login failed
		return apperrors.CategoryPermission
	case 233, 10053, 10054, 10060, 40613, 40197, 40501:
		// transport failures and Azure SQL transient errors
		return apperrors.CategoryConnectivity
	default:
		return apperrors.CategoryUnknown
	}
}
