package svm

import (
	"fmt"
	"strings"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/boorich/naveens"
)

// GetNetworkConfig returns the configuration for a Solana CAIP-2 network
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

// IsSolanaNetwork reports whether network is in the solana namespace
func IsSolanaNetwork(network string) bool {
	return strings.HasPrefix(network, "solana:")
}

// ValidateSolanaAddress checks that address decodes to a 32-byte public key
func ValidateSolanaAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	return nil
}

// GetAssetInfo returns the default asset of network when address is its mint
func GetAssetInfo(network string, address string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if address == config.DefaultAsset.Address {
		return &config.DefaultAsset, nil
	}
	return nil, fmt.Errorf("unknown mint %s on network %s", address, network)
}
