package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// Connector opens dedicated connections to the operational database.
// Connections are never pooled: each execution gets its own connection so
// one request's locks cannot stall another's.
type Connector interface {
	// Open establishes a new connection. The caller owns it and must Close it.
	Open(ctx context.Context) (Conn, error)

	// Dialect reports the SQL flavor the connection speaks.
	Dialect() models.Dialect
}

// Conn is a single database connection.
type Conn interface {
	// Query runs a read-only statement and materializes every row.
	// Driver failures are returned as *QueryError carrying a category.
	Query(ctx context.Context, sqlQuery string) (*QueryResult, error)

	// Ping verifies the connection is usable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// SchemaDiscoverer reads catalog metadata from the operational database.
// Each implementation owns its connection and must be closed when done.
type SchemaDiscoverer interface {
	// DiscoverTables returns all user tables (excludes system schemas).
	DiscoverTables(ctx context.Context) ([]TableMetadata, error)

	// DiscoverColumns returns columns for a specific table in ordinal order.
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]ColumnMetadata, error)

	// DiscoverForeignKeys returns all foreign key columns, one row per column pair.
	DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMetadata, error)

	// DiscoverIndexes returns the indexed columns of every user table.
	DiscoverIndexes(ctx context.Context) ([]IndexMetadata, error)

	// GetDistinctValues returns up to limit distinct non-null values from a column.
	// Values are returned as strings, sorted alphabetically.
	GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error)

	// Close releases the database connection.
	Close() error
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// QueryResult holds the rows returned by Conn.Query.
type QueryResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}
