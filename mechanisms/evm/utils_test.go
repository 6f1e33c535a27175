package evm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/boorich/naveens"
)

func TestGetNetworkConfig(t *testing.T) {
	config, err := GetNetworkConfig("eip155:84532")
	require.NoError(t, err)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", config.DefaultAsset.Address)
	assert.Equal(t, 6, config.DefaultAsset.Decimals)

	_, err = GetNetworkConfig("base-sepolia")
	assert.True(t, errors.Is(err, x402.ErrUnsupportedNetwork))
}

func TestGetChainID(t *testing.T) {
	id, err := GetChainID("eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, int64(8453), id.Int64())

	id, err = GetChainID("eip155:42161")
	require.NoError(t, err)
	assert.Equal(t, int64(42161), id.Int64())

	_, err = GetChainID("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp")
	assert.Error(t, err)
	_, err = GetChainID("eip155:abc")
	assert.Error(t, err)
}

func TestAddressHelpers(t *testing.T) {
	lower := "0x036cbd53842c5426634e7929541ec2318f3dcf7e"

	assert.True(t, IsValidAddress(lower))
	assert.False(t, IsValidAddress("036cbd53842c5426634e7929541ec2318f3dcf7e"))
	assert.False(t, IsValidAddress("0x1234"))
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", NormalizeAddress(lower))
	assert.True(t, SameAddress(lower, "0x036CbD53842c5426634e7929541eC2318f3dCF7e"))
	assert.True(t, IsEVMNetwork("eip155:1"))
	assert.False(t, IsEVMNetwork("solana:devnet"))

	info, err := GetAssetInfo("eip155:84532", lower)
	require.NoError(t, err)
	assert.Equal(t, "USDC", info.Name)

	_, err = GetAssetInfo("eip155:84532", ZeroAddress)
	assert.Error(t, err)
}
