package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AdapterFactory creates adapters from the registry.
type AdapterFactory interface {
	// NewConnector creates a connector for the given datasource type.
	NewConnector(dsType string, config map[string]any) (Connector, error)

	// NewSchemaDiscoverer opens a schema discoverer for the given datasource type.
	NewSchemaDiscoverer(ctx context.Context, dsType string, config map[string]any) (SchemaDiscoverer, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewAdapterFactory returns a factory that uses the global registry.
func NewAdapterFactory(logger *zap.Logger) AdapterFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{logger: logger}
}

func (f *registryFactory) NewConnector(dsType string, config map[string]any) (Connector, error) {
	reg, ok := lookup(dsType)
	if !ok || reg.ConnectorFactory == nil {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	return reg.ConnectorFactory(config, f.logger.Named(dsType))
}

func (f *registryFactory) NewSchemaDiscoverer(ctx context.Context, dsType string, config map[string]any) (SchemaDiscoverer, error) {
	reg, ok := lookup(dsType)
	if !ok || reg.SchemaDiscovererFactory == nil {
		return nil, fmt.Errorf("schema discovery not supported for type: %s", dsType)
	}
	return reg.SchemaDiscovererFactory(ctx, config, f.logger.Named(dsType))
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements AdapterFactory at compile time.
var _ AdapterFactory = (*registryFactory)(nil)
