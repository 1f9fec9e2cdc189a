package svm

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSVMChains(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	registry := chains.NewRegistry()

	// Initialize SVM chains with default networks (uses official endpoints)
	err := InitSVMChains(context.Background(), logger, registry, Options{})
	require.NoError(t, err)

	// Verify that both default networks were registered
	adapter, err := registry.Get("solana")
	assert.NoError(t, err)
	assert.Equal(t, "solana", adapter.Network())

	adapter, err = registry.Get("solana-devnet")
	assert.NoError(t, err)
	assert.Equal(t, "solana-devnet", adapter.Network())
	assert.NotNil(t, adapter.RPCClient())
	assert.NotNil(t, adapter.TransactionValidator())
}

func TestInitSVMChainsWithEmptyEndpoints(t *testing.T) {
	registry := chains.NewRegistry()

	// Empty endpoint lists fall back to official endpoints
	err := InitSVMChains(context.Background(), nil, registry, Options{
		Endpoints: map[string][]string{
			"solana":        {"https://api.mainnet-beta.solana.com"},
			"solana-devnet": {},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"solana", "solana-devnet"}, registry.GetSupportedNetworks())

	adapter, err := registry.Get("solana-devnet")
	require.NoError(t, err)
	client, ok := adapter.RPCClient().(*RPCClient)
	require.True(t, ok)
	assert.Equal(t, []string{"https://api.devnet.solana.com"}, client.pool.URLs())
}

func TestInitSVMChainsSkipsUnknownNetworkWithoutEndpoints(t *testing.T) {
	registry := chains.NewRegistry()

	err := InitSVMChains(context.Background(), nil, registry, Options{
		Endpoints: map[string][]string{
			"solana-localnet": {},
			"solana":          {"https://api.mainnet-beta.solana.com", "https://solana-rpc.publicnode.com"},
		},
		MaxAttempts: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"solana"}, registry.GetSupportedNetworks())

	adapter, err := registry.Get("solana")
	require.NoError(t, err)
	client := adapter.RPCClient().(*RPCClient)
	assert.Equal(t, 2, client.maxAttempts)
	assert.Len(t, client.pool.URLs(), 2)
}
