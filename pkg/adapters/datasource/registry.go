package datasource

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string         `json:"type"`         // "postgres", "mssql"
	DisplayName string         `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string         `json:"description"`
	Dialect     models.Dialect `json:"dialect"`
}

// AdapterRegistration contains info + factories for creating adapters.
type AdapterRegistration struct {
	Info                    AdapterInfo
	ConnectorFactory        func(config map[string]any, logger *zap.Logger) (Connector, error)
	SchemaDiscovererFactory func(ctx context.Context, config map[string]any, logger *zap.Logger) (SchemaDiscoverer, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

func lookup(dsType string) (AdapterRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[dsType]
	return reg, ok
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(dsType string) bool {
	_, ok := lookup(dsType)
	return ok
}
