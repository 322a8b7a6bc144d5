package mssql

import (
	"strings"
)

// quoteName brackets an identifier the way QUOTENAME does, doubling any
// closing bracket.
func quoteName(identifier string) string {
	return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
}

// buildFullyQualifiedName builds a fully qualified table name: [schema].[table]
func buildFullyQualifiedName(schema, table string) string {
	return quoteName(schema) + "." + quoteName(table)
}

// catalogTypes maps SQL Server type names onto the portable names the
// catalog classifies columns by (text, numeric, temporal). Types missing
// here pass through upper-cased.
var catalogTypes = map[string]string{
	"INT":              "INTEGER",
	"DECIMAL":          "NUMERIC",
	"NUMERIC":          "NUMERIC",
	"SMALLMONEY":       "MONEY",
	"FLOAT":            "DOUBLE PRECISION",
	"NCHAR":            "CHAR",
	"NVARCHAR":         "VARCHAR",
	"NTEXT":            "TEXT",
	"BINARY":           "BYTEA",
	"VARBINARY":        "BYTEA",
	"IMAGE":            "BLOB",
	"DATETIME":         "TIMESTAMP",
	"DATETIME2":        "TIMESTAMP",
	"SMALLDATETIME":    "TIMESTAMP",
	"DATETIMEOFFSET":   "TIMESTAMP WITH TIME ZONE",
	"BIT":              "BOOLEAN",
	"UNIQUEIDENTIFIER": "UUID",
}

// mapSQLServerType maps a SQL Server type name, with or without a length
// suffix such as "nvarchar(50)", to its catalog name.
func mapSQLServerType(sqlServerType string) string {
	base := strings.ToUpper(strings.TrimSpace(sqlServerType))
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if mapped, ok := catalogTypes[base]; ok {
		return mapped
	}
	return base
}

// isStringType reports whether driver values of this type arrive as []byte
// holding character data.
func isStringType(sqlType string) bool {
	switch mapSQLServerType(sqlType) {
	case "CHAR", "VARCHAR", "TEXT":
		return true
	}
	return false
}
