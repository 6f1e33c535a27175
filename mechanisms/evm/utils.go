package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/boorich/naveens"
)

// GetNetworkConfig returns the configuration for a CAIP-2 network
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	if config, ok := NetworkConfigs[network]; ok {
		return &config, nil
	}
	return nil, x402.NewPaymentError(
		x402.ErrCodeUnsupportedNetwork,
		fmt.Sprintf("no default asset configured for network %s", network),
		nil,
	)
}

// GetChainID extracts the chain ID from an "eip155:<id>" network
func GetChainID(network string) (*big.Int, error) {
	if config, ok := NetworkConfigs[network]; ok {
		return new(big.Int).Set(config.ChainID), nil
	}

	namespace, reference, err := x402.Network(network).Parse()
	if err != nil {
		return nil, err
	}
	if namespace != "eip155" {
		return nil, fmt.Errorf("not an EVM network: %s", network)
	}
	chainID, ok := new(big.Int).SetString(reference, 10)
	if !ok || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id in network %s", network)
	}
	return chainID, nil
}

// IsEVMNetwork reports whether network is in the eip155 namespace
func IsEVMNetwork(network string) bool {
	return strings.HasPrefix(network, "eip155:")
}

// IsValidAddress reports whether address is a 0x-prefixed 20-byte hex address
func IsValidAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// NormalizeAddress returns the EIP-55 checksummed form of address
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// SameAddress compares two addresses ignoring case
func SameAddress(a, b string) bool {
	return IsValidAddress(a) && IsValidAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}

// GetAssetInfo returns the asset info for address on network. The network's
// default asset is recognised in any letter case; other tokens are unknown.
func GetAssetInfo(network string, address string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if SameAddress(config.DefaultAsset.Address, address) {
		return &config.DefaultAsset, nil
	}
	return nil, fmt.Errorf("unknown asset %s on network %s", address, network)
}
