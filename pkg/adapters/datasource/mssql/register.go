//go:build mssql || all_adapters

package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2019+, Azure SQL Database",
			Dialect:     models.DialectMSSQL,
		},
		ConnectorFactory: func(config map[string]any, logger *zap.Logger) (datasource.Connector, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewConnector(cfg, logger), nil
		},
		SchemaDiscovererFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (datasource.SchemaDiscoverer, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewSchemaDiscoverer(ctx, cfg, logger)
		},
	})
}
