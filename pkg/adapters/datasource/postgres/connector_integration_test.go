//go:build integration && (postgres || all_adapters)

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/testhelpers"
)

func setupConfig(t *testing.T) *Config {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	cfg, err := FromMap(testDB.AdapterConfig())
	require.NoError(t, err)
	return cfg
}

func TestConnector_QueryMaterializesRows(t *testing.T) {
	connector := NewConnector(setupConfig(t), zaptest.NewLogger(t))

	ctx := context.Background()
	conn, err := connector.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping(ctx))

	result, err := conn.Query(ctx, `SELECT "sku", "weight_kg" FROM "public"."products" ORDER BY "sku"`)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowCount)
	assert.Equal(t, []datasource.ColumnInfo{{Name: "sku", Type: "VARCHAR"}, {Name: "weight_kg", Type: "NUMERIC"}}, result.Columns)
	assert.Equal(t, "SKU-1001", result.Rows[0]["sku"])
}

func TestConnector_DeadlineCancelsQuery(t *testing.T) {
	connector := NewConnector(setupConfig(t), nil)

	conn, err := connector.Open(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	_, err = conn.Query(ctx, "SELECT pg_sleep(5)")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil)
}

func TestConnector_ErrorCategories(t *testing.T) {
	connector := NewConnector(setupConfig(t), nil)

	ctx := context.Background()
	conn, err := connector.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Query(ctx, "SELECT * FORM orders")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategorySyntax, datasource.CategoryOf(err))

	_, err = conn.Query(ctx, "SELECT * FROM no_such_table")
	assert.Equal(t, apperrors.CategorySyntax, datasource.CategoryOf(err))
}

func TestConnector_BadCredentials(t *testing.T) {
	cfg := *setupConfig(t)
	cfg.Password = "wrong"

	_, err := NewConnector(&cfg, nil).Open(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryPermission, datasource.CategoryOf(err))
}

func TestSchemaDiscoverer_WMSFixture(t *testing.T) {
	ctx := context.Background()
	disc, err := NewSchemaDiscoverer(ctx, setupConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer disc.Close()

	tables, err := disc.DiscoverTables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, 9)

	columns, err := disc.DiscoverColumns(ctx, "public", "orders")
	require.NoError(t, err)
	require.NotEmpty(t, columns)
	assert.Equal(t, "order_id", columns[0].ColumnName)
	assert.True(t, columns[0].IsPrimaryKey)
	assert.Equal(t, "order_number", columns[1].ColumnName)
	assert.True(t, columns[1].IsUnique)

	fks, err := disc.DiscoverForeignKeys(ctx)
	require.NoError(t, err)
	found := false
	for _, fk := range fks {
		if fk.SourceTable == "order_lines" && fk.TargetTable == "orders" {
			found = true
			assert.Equal(t, "order_id", fk.SourceColumn)
			assert.Equal(t, "order_id", fk.TargetColumn)
			assert.Equal(t, 1, fk.Position)
		}
	}
	assert.True(t, found, "order_lines -> orders foreign key")

	indexes, err := disc.DiscoverIndexes(ctx)
	require.NoError(t, err)
	var statusIndexed bool
	for _, ix := range indexes {
		if ix.TableName == "orders" && ix.ColumnName == "status" {
			statusIndexed = true
		}
	}
	assert.True(t, statusIndexed)

	values, err := disc.GetDistinctValues(ctx, "public", "orders", "status", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"CANCELLED", "PENDING", "SHIPPED"}, values)
}
