package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
)

// SchemaDiscoverer implements datasource.SchemaDiscoverer for SQL Server
// over a single-connection *sql.DB held for one catalog build.
type SchemaDiscoverer struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSchemaDiscoverer connects and returns a discoverer.
// If logger is nil, a no-op logger is used.
func NewSchemaDiscoverer(ctx context.Context, cfg *Config, logger *zap.Logger) (*SchemaDiscoverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to sql server: %w", classifyError(err))
	}

	return newSchemaDiscoverer(db, logger), nil
}

func newSchemaDiscoverer(db *sql.DB, logger *zap.Logger) *SchemaDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaDiscoverer{db: db, logger: logger}
}

// DiscoverTables returns all user tables (excludes system schemas).
func (s *SchemaDiscoverer) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    SUM(p.rows) AS row_count
	FROM sys.tables t
	INNER JOIN sys.partitions p ON t.object_id = p.object_id
	WHERE p.index_id IN (0, 1)  -- Heap or clustered index
	  AND t.is_ms_shipped = 0   -- Exclude system tables
	GROUP BY t.schema_id, t.name
	ORDER BY table_schema, table_name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", classifyError(err))
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var table datasource.TableMetadata
		if err := rows.Scan(&table.SchemaName, &table.TableName, &table.RowCount); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, table)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", classifyError(err))
	}

	return tables, nil
}

// DiscoverColumns returns columns for a specific table.
func (s *SchemaDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    c.name AS column_name,
	    tp.name AS data_type,
	    CASE WHEN c.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    c.column_id AS ordinal_position,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    CASE WHEN uq.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_unique
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT DISTINCT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	LEFT JOIN (
	    SELECT DISTINCT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_unique = 1 AND i.is_primary_key = 0
	      AND (SELECT COUNT(*) FROM sys.index_columns x
	           WHERE x.object_id = i.object_id AND x.index_id = i.index_id AND x.key_ordinal > 0) = 1
	) uq ON c.object_id = uq.object_id AND c.column_id = uq.column_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY c.column_id
	`

	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("schema", schemaName),
		sql.Named("table", tableName),
	)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", classifyError(err))
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var col datasource.ColumnMetadata
		var isNullable, isPrimary, isUnique int

		err := rows.Scan(
			&col.ColumnName,
			&col.DataType,
			&isNullable,
			&col.OrdinalPosition,
			&isPrimary,
			&isUnique,
		)
		if err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}

		col.IsNullable = isNullable == 1
		col.IsPrimaryKey = isPrimary == 1
		col.IsUnique = isUnique == 1
		col.DataType = mapSQLServerType(col.DataType)

		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", classifyError(err))
	}

	return columns, nil
}

// DiscoverForeignKeys returns all foreign key relationships, one row per
// column pair in key order.
func (s *SchemaDiscoverer) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    fk.name AS constraint_name,
	    SCHEMA_NAME(fk.schema_id) AS source_schema,
	    OBJECT_NAME(fk.parent_object_id) AS source_table,
	    COL_NAME(fkc.parent_object_id, fkc.parent_column_id) AS source_column,
	    SCHEMA_NAME(rt.schema_id) AS target_schema,
	    OBJECT_NAME(fk.referenced_object_id) AS target_table,
	    COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS target_column,
	    fkc.constraint_column_id AS position
	FROM sys.foreign_keys fk
	INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
	INNER JOIN sys.tables rt ON fk.referenced_object_id = rt.object_id
	WHERE fk.is_ms_shipped = 0
	ORDER BY source_schema, source_table, fk.name, fkc.constraint_column_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", classifyError(err))
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		err := rows.Scan(
			&fk.ConstraintName,
			&fk.SourceSchema,
			&fk.SourceTable,
			&fk.SourceColumn,
			&fk.TargetSchema,
			&fk.TargetTable,
			&fk.TargetColumn,
			&fk.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		fks = append(fks, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", classifyError(err))
	}

	return fks, nil
}

// DiscoverIndexes returns the key columns of every index on a user table.
// Included (non-key) columns are skipped.
func (s *SchemaDiscoverer) DiscoverIndexes(ctx context.Context) ([]datasource.IndexMetadata, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    i.name AS index_name,
	    COL_NAME(ic.object_id, ic.column_id) AS column_name,
	    ic.key_ordinal AS position,
	    CASE WHEN i.is_unique = 1 THEN 1 ELSE 0 END AS is_unique,
	    CASE WHEN i.is_primary_key = 1 THEN 1 ELSE 0 END AS is_primary
	FROM sys.indexes i
	INNER JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id
	INNER JOIN sys.tables t ON i.object_id = t.object_id
	WHERE t.is_ms_shipped = 0
	  AND i.type > 0           -- Skip heaps
	  AND ic.key_ordinal > 0
	ORDER BY table_schema, table_name, index_name, ic.key_ordinal
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", classifyError(err))
	}
	defer rows.Close()

	var indexes []datasource.IndexMetadata
	for rows.Next() {
		var ix datasource.IndexMetadata
		var isUnique, isPrimary int
		if err := rows.Scan(&ix.SchemaName, &ix.TableName, &ix.IndexName, &ix.ColumnName,
			&ix.Position, &isUnique, &isPrimary); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		ix.IsUnique = isUnique == 1
		ix.IsPrimary = isPrimary == 1
		indexes = append(indexes, ix)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index rows: %w", classifyError(err))
	}

	return indexes, nil
}

// GetDistinctValues returns up to limit distinct non-null values from a
// column, sorted alphabetically. Reads use NOLOCK so sampling never waits
// on writers.
func (s *SchemaDiscoverer) GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT DISTINCT TOP (%d) CAST(%s AS NVARCHAR(MAX)) AS val
	FROM %s WITH (NOLOCK)
	WHERE %s IS NOT NULL
	ORDER BY 1
	`,
		limit,
		quoteName(columnName),
		buildFullyQualifiedName(schemaName, tableName),
		quoteName(columnName),
	)

	rows, err := s.db.QueryContext(ctx, query)
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

// Close releases the database connection.
func (s *SchemaDiscoverer) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure SchemaDiscoverer implements datasource.SchemaDiscoverer at compile time.
var _ datasource.SchemaDiscoverer = (*SchemaDiscoverer)(nil)
