//go:build postgres || all_adapters

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.ErrorCategory
	}{
		{"syntax", &pgconn.PgError{Code: "42601", Message: `syntax error at or near "FORM"`}, apperrors.CategorySyntax},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: `relation "ordrs" does not exist`}, apperrors.CategorySyntax},
		{"undefined column", fmt.Errorf("query: %w", &pgconn.PgError{Code: "42703"}), apperrors.CategorySyntax},
		{"permission", &pgconn.PgError{Code: "42501", Message: "permission denied for table payroll"}, apperrors.CategoryPermission},
		{"bad password", &pgconn.PgError{Code: "28P01"}, apperrors.CategoryPermission},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, apperrors.CategoryConnectivity},
		{"connection exception", &pgconn.PgError{Code: "08006"}, apperrors.CategoryConnectivity},
		{"other", &pgconn.PgError{Code: "XX000"}, apperrors.CategoryUnknown},
		{"plain", errors.New("boom"), apperrors.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.Equal(t, tt.want, datasource.CategoryOf(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_KeepsContextErrors(t *testing.T) {
	assert.NoError(t, classifyError(nil))
	assert.Equal(t, context.DeadlineExceeded, classifyError(context.DeadlineExceeded))
}

func TestPgTypeNameFromOID(t *testing.T) {
	assert.Equal(t, "INT4", pgTypeNameFromOID(23))
	assert.Equal(t, "TIMESTAMPTZ", pgTypeNameFromOID(1184))
	assert.Equal(t, "UNKNOWN", pgTypeNameFromOID(999999))
}
