package chains

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry manages chain adapters for different blockchain networks
type Registry struct {
	adapters map[string]ChainAdapter
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]ChainAdapter),
	}
}

// Register registers a chain adapter (uses adapter.Network() as key)
// If an adapter already exists for the network, it will be replaced (idempotent)
func (r *Registry) Register(adapter ChainAdapter) error {
	if adapter == nil {
		return fmt.Errorf("cannot register nil adapter")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[adapter.Network()] = adapter
	return nil
}

// Get retrieves a chain adapter by network name
func (r *Registry) Get(network string) (ChainAdapter, error) {
	r.mu.RLock()
	adapter, exists := r.adapters[network]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no adapter registered for network: %s (supported: %s)",
			network, strings.Join(r.GetSupportedNetworks(), ", "))
	}

	return adapter, nil
}

// GetSupportedNetworks returns a sorted list of all registered networks
func (r *Registry) GetSupportedNetworks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]string, 0, len(r.adapters))
	for network := range r.adapters {
		networks = append(networks, network)
	}
	sort.Strings(networks)
	return networks
}
