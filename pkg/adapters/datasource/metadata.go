package datasource

// TableMetadata represents a discovered database table.
type TableMetadata struct {
	SchemaName string
	TableName  string
	RowCount   int64
}

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	IsUnique        bool
	OrdinalPosition int
	DefaultValue    *string
}

// ForeignKeyMetadata represents one column pair of a foreign key constraint.
// Multi-column constraints produce one row per pair, in key order.
type ForeignKeyMetadata struct {
	ConstraintName string
	SourceSchema   string
	SourceTable    string
	SourceColumn   string
	TargetSchema   string
	TargetTable    string
	TargetColumn   string
	Position       int
}

// IndexMetadata represents one column of an index.
type IndexMetadata struct {
	SchemaName string
	TableName  string
	IndexName  string
	ColumnName string
	Position   int // 1-based position within the index key
	IsUnique   bool
	IsPrimary  bool
}
