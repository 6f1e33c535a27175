// Package svm holds the Solana network table and address helpers used by the
// exact scheme server.
package svm

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// CAIP-2 network identifiers (genesis hash prefixes)
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"

	// NetworkPattern matches every Solana cluster
	NetworkPattern = "solana:*"

	// USDC mint addresses
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// NetworkConfigs lists the default stablecoin per supported cluster
var NetworkConfigs = map[string]NetworkConfig{
	SolanaMainnetCAIP2: {
		CAIP2: SolanaMainnetCAIP2,
		DefaultAsset: AssetInfo{
			Address:  USDCMainnetAddress,
			Symbol:   "USDC",
			Decimals: DefaultDecimals,
		},
	},
	SolanaDevnetCAIP2: {
		CAIP2: SolanaDevnetCAIP2,
		DefaultAsset: AssetInfo{
			Address:  USDCDevnetAddress,
			Symbol:   "USDC",
			Decimals: DefaultDecimals,
		},
	},
}

// AssetInfo contains information about an SPL token
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig contains cluster-specific configuration
type NetworkConfig struct {
	CAIP2        string
	DefaultAsset AssetInfo
}
