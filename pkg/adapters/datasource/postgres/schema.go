//go:build postgres || all_adapters

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
)

// qualifiedTableName returns a properly quoted table reference.
// If schemaName is empty, returns just the quoted table name.
// Otherwise returns "schema"."table".
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	quotedSchema := pgx.Identifier{schemaName}.Sanitize()
	return quotedSchema + "." + quotedTable
}

// SchemaDiscoverer provides PostgreSQL schema discovery over one dedicated
// connection that lives for the duration of a catalog build.
type SchemaDiscoverer struct {
	conn   *pgx.Conn
	logger *zap.Logger
}

// NewSchemaDiscoverer connects and returns a discoverer. If logger is nil, a
// no-op logger is used.
func NewSchemaDiscoverer(ctx context.Context, cfg *Config, logger *zap.Logger) (*SchemaDiscoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := pgx.Connect(ctx, buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", classifyError(err))
	}

	return &SchemaDiscoverer{conn: conn, logger: logger}, nil
}

// Close releases the discovery connection.
func (d *SchemaDiscoverer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return d.conn.Close(ctx)
}

// DiscoverTables returns all user tables (excludes system schemas).
func (d *SchemaDiscoverer) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
		SELECT
			t.table_schema,
			t.table_name,
			GREATEST(COALESCE(c.reltuples::bigint, 0), 0) as row_count
		FROM information_schema.tables t
		LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY t.table_schema, t.table_name
	`

	rows, err := d.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", classifyError(err))
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.SchemaName, &t.TableName, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", classifyError(err))
	}

	return tables, nil
}

// DiscoverColumns returns columns for a specific table.
// Uses pg_index for primary key and unique detection, which correctly identifies
// primary keys even when created as unique indexes.
func (d *SchemaDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' as is_nullable,
			COALESCE(pk.is_pk, false) as is_primary_key,
			COALESCE(uq.is_unique, false) as is_unique,
			c.ordinal_position,
			c.column_default
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT DISTINCT a.attname as column_name, true as is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = $1
			  AND t.relname = $2
		) pk ON c.column_name = pk.column_name
		LEFT JOIN (
			SELECT DISTINCT a.attname as column_name, true as is_unique
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisunique = true
			  AND ix.indisprimary = false
			  AND n.nspname = $1
			  AND t.relname = $2
			  AND array_length(ix.indkey, 1) = 1  -- single-column unique indexes only
		) uq ON c.column_name = uq.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := d.conn.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", classifyError(err))
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.IsUnique, &c.OrdinalPosition, &c.DefaultValue); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", classifyError(err))
	}

	return columns, nil
}

// DiscoverForeignKeys returns all foreign key column pairs in key order.
// pg_constraint is used instead of information_schema so multi-column keys
// keep their pairing.
func (d *SchemaDiscoverer) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	const query = `
		SELECT
			con.conname,
			sn.nspname as source_schema,
			sc.relname as source_table,
			sa.attname as source_column,
			tn.nspname as target_schema,
			tc.relname as target_table,
			ta.attname as target_column,
			k.ord::int as position
		FROM pg_constraint con
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(src, tgt, ord)
		JOIN pg_class sc ON sc.oid = con.conrelid
		JOIN pg_namespace sn ON sn.oid = sc.relnamespace
		JOIN pg_attribute sa ON sa.attrelid = con.conrelid AND sa.attnum = k.src
		JOIN pg_class tc ON tc.oid = con.confrelid
		JOIN pg_namespace tn ON tn.oid = tc.relnamespace
		JOIN pg_attribute ta ON ta.attrelid = con.confrelid AND ta.attnum = k.tgt
		WHERE con.contype = 'f'
		  AND sn.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY sn.nspname, sc.relname, con.conname, k.ord
	`

	rows, err := d.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", classifyError(err))
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceSchema, &fk.SourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn, &fk.Position); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", classifyError(err))
	}

	return fks, nil
}

// DiscoverIndexes returns every indexed column with its position in the key.
func (d *SchemaDiscoverer) DiscoverIndexes(ctx context.Context) ([]datasource.IndexMetadata, error) {
	const query = `
		SELECT
			n.nspname,
			t.relname,
			i.relname,
			a.attname,
			k.ord::int,
			ix.indisunique,
			ix.indisprimary
		FROM pg_index ix
		CROSS JOIN LATERAL unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND k.attnum > 0
		ORDER BY n.nspname, t.relname, i.relname, k.ord
	`

	rows, err := d.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", classifyError(err))
	}
	defer rows.Close()

	var indexes []datasource.IndexMetadata
	for rows.Next() {
		var ix datasource.IndexMetadata
		if err := rows.Scan(&ix.SchemaName, &ix.TableName, &ix.IndexName, &ix.ColumnName,
			&ix.Position, &ix.IsUnique, &ix.IsPrimary); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		indexes = append(indexes, ix)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", classifyError(err))
	}

	return indexes, nil
}

// GetDistinctValues returns up to limit distinct non-null values from a column.
func (d *SchemaDiscoverer) GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error) {
	// Quote identifiers to prevent SQL injection
	tableRef := qualifiedTableName(schemaName, tableName)
	quotedCol := pgx.Identifier{columnName}.Sanitize()

	query := fmt.Sprintf(`
		SELECT DISTINCT %s::text
		FROM %s
		WHERE %s IS NOT NULL
		ORDER BY 1
		LIMIT $1
	`, quotedCol, tableRef, quotedCol)

	rows, err := d.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get distinct values for %s.%s.%s: %w", schemaName, tableName, columnName, classifyError(err))
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var val string
		if err := rows.Scan(&val); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, val)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct values: %w", classifyError(err))
	}

	return values, nil
}

// Ensure SchemaDiscoverer implements datasource.SchemaDiscoverer at compile time.
var _ datasource.SchemaDiscoverer = (*SchemaDiscoverer)(nil)
