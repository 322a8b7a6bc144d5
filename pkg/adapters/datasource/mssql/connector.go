package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb/azuread" // registers the azuresql driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// Connector opens one SQL Server session per call. Each session gets its
// own *sql.DB capped at a single connection, so database/sql never pools
// across executions.
type Connector struct {
	config *Config
	logger *zap.Logger
}

// NewConnector creates a SQL Server connector.
func NewConnector(cfg *Config, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{config: cfg, logger: logger}
}

// Dialect implements datasource.Connector.
func (c *Connector) Dialect() models.Dialect { return models.DialectMSSQL }

// Open implements datasource.Connector.
func (c *Connector) Open(ctx context.Context) (datasource.Conn, error) {
	db, err := openDB(c.config)
	if err != nil {
		return nil, err
	}

	cn, err := newConn(ctx, db)
	if err != nil {
		_ = db.Close()
		c.logger.Debug("connect failed",
			zap.String("host", c.config.Host),
			zap.String("auth_method", c.config.AuthMethod),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("connect to sql server: %w", err)
	}
	return cn, nil
}

func openDB(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.driverName(), cfg.connectionString())
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.AuthMethod, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// newConn pins one physical connection out of db. The returned conn owns db.
func newConn(ctx context.Context, db *sql.DB) (*conn, error) {
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	return &conn{db: db, conn: c}, nil
}

type conn struct {
	db   *sql.DB
	conn *sql.Conn
}

// Query implements datasource.Conn. The driver sends an attention packet
// when ctx is cancelled, which aborts the batch on the server.
func (c *conn) Query(ctx context.Context, sqlQuery string) (*datasource.QueryResult, error) {
	rows, err := c.conn.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", classifyError(err))
	}

	columns := make([]datasource.ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = datasource.ColumnInfo{
			Name: ct.Name(),
			Type: mapSQLServerType(ct.DatabaseTypeName()),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", classifyError(err))
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			val := values[i]
			// CHAR, VARCHAR, NCHAR, NVARCHAR and TEXT may arrive as []byte
			if b, ok := val.([]byte); ok && isStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col.Name] = val
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
	return classifyError(c.conn.PingContext(ctx))
}

// Close implements datasource.Conn.
func (c *conn) Close() error {
	return errors.Join(c.conn.Close(), c.db.Close())
}

// Ensure Connector implements datasource.Connector at compile time.
var _ datasource.Connector = (*Connector)(nil)
