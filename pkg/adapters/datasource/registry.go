package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ProviderInfo describes a registered provider type.
type ProviderInfo struct {
	Type        string `json:"type"`         // "fixture", "memory"
	DisplayName string `json:"display_name"` // "YAML fixtures"
	Description string `json:"description"`
}

// ProviderRegistration contains info + the factory for creating providers.
// The factory receives the source location from configuration.
type ProviderRegistration struct {
	Info    ProviderInfo
	Factory func(ctx context.Context, source string) (TableProvider, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ProviderRegistration)
)

// Register adds a provider type. Thread-safe for concurrent init() calls.
func Register(reg ProviderRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredProviders returns info for all registered provider types, sorted by type.
func RegisteredProviders() []ProviderInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]ProviderInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// New creates a provider of the given registered type.
func New(ctx context.Context, providerType, source string) (TableProvider, error) {
	registryMu.RLock()
	reg, ok := registry[providerType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported datasource type: %s", providerType)
	}
	return reg.Factory(ctx, source)
}

func init() {
	Register(ProviderRegistration{
		Info: ProviderInfo{
			Type:        "fixture",
			DisplayName: "YAML fixtures",
			Description: "Tables loaded once from a YAML fixture file",
		},
		Factory: func(ctx context.Context, source string) (TableProvider, error) {
			return LoadFixtures(source)
		},
	})
	Register(ProviderRegistration{
		Info: ProviderInfo{
			Type:        "memory",
			DisplayName: "In-memory",
			Description: "Empty in-memory store populated by ingestion",
		},
		Factory: func(ctx context.Context, source string) (TableProvider, error) {
			return NewStaticProvider(), nil
		},
	})
}
