package chains

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChainAdapter is a simple test adapter
type mockChainAdapter struct {
	network string
}

func (m *mockChainAdapter) Network() string {
	return m.network
}

func (m *mockChainAdapter) RPCClient() RPCClient {
	return nil // Not needed for registry tests
}

func (m *mockChainAdapter) TransactionValidator() TransactionValidator {
	return nil // Not needed for registry tests
}

func TestRegistryIdempotent(t *testing.T) {
	registry := NewRegistry()

	adapter1 := &mockChainAdapter{network: "solana-devnet"}
	adapter2 := &mockChainAdapter{network: "solana-devnet"}

	require.NoError(t, registry.Register(adapter1))
	require.NoError(t, registry.Register(adapter2), "re-registering a network should replace the adapter")

	retrieved, err := registry.Get("solana-devnet")
	require.NoError(t, err)
	assert.Same(t, adapter2, retrieved)
}

func TestRegistryRejectsNil(t *testing.T) {
	registry := NewRegistry()
	assert.Error(t, registry.Register(nil))
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	registry := NewRegistry()

	// Startup registration races with background health-check refreshes
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, registry.Register(&mockChainAdapter{network: "solana"}))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"solana"}, registry.GetSupportedNetworks())
}

func TestRegistryMultipleNetworks(t *testing.T) {
	registry := NewRegistry()

	networks := []string{"solana-testnet", "solana", "solana-devnet"}
	for _, network := range networks {
		require.NoError(t, registry.Register(&mockChainAdapter{network: network}))
	}

	assert.Equal(t, []string{"solana", "solana-devnet", "solana-testnet"}, registry.GetSupportedNetworks())
}

func TestRegistryGetNamesSupportedNetworks(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&mockChainAdapter{network: "solana-devnet"}))
	require.NoError(t, registry.Register(&mockChainAdapter{network: "solana"}))

	_, err := registry.Get("solana-testnet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solana-testnet")
	assert.Contains(t, err.Error(), "supported: solana, solana-devnet")
}
