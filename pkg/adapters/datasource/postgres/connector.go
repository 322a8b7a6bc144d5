//go:build postgres || all_adapters

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// closeTimeout bounds the graceful termination message sent on Close.
const closeTimeout = 5 * time.Second

// Connector opens one pgx connection per call. There is deliberately no
// pool: every execution runs on its own backend.
type Connector struct {
	config *Config
	logger *zap.Logger
}

// NewConnector creates a PostgreSQL connector.
func NewConnector(cfg *Config, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{config: cfg, logger: logger}
}

// Dialect implements datasource.Connector.
func (c *Connector) Dialect() models.Dialect { return models.DialectPostgres }

// Open implements datasource.Connector.
func (c *Connector) Open(ctx context.Context) (datasource.Conn, error) {
	connStr := buildConnectionString(c.config)
	pgConn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		c.logger.Debug("connect failed",
			zap.String("dsn", logging.SanitizeConnectionString(connStr)),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("connect to postgres: %w", classifyError(err))
	}
	return &conn{conn: pgConn}, nil
}

type conn struct {
	conn *pgx.Conn
}

// Query implements datasource.Conn. Cancelling ctx makes pgx send a cancel
// request to the backend and abandon the connection.
func (c *conn) Query(ctx context.Context, sqlQuery string) (*datasource.QueryResult, error) {
	rows, err := c.conn.Query(ctx, sqlQuery)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classifyError(err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}

	return &datasource.QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Ping implements datasource.Conn.
func (c *conn) Ping(ctx context.Context) error {
	return classifyError(c.conn.Ping(ctx))
}

// Close implements datasource.Conn.
func (c *conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.conn.Close(ctx)
}

// pgTypeNameFromOID maps common PostgreSQL type OIDs to their names.
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 18:
		return "CHAR"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 790:
		return "MONEY"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	default:
		return "UNKNOWN"
	}
}

// Ensure Connector implements datasource.Connector at compile time.
var _ datasource.Connector = (*Connector)(nil)
