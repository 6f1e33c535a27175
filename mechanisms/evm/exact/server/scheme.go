package server

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	x402 "github.com/boorich/naveens"
	"github.com/boorich/naveens/mechanisms/evm"
)

// Ensure ExactEvmScheme implements SchemeNetworkServer
var _ x402.SchemeNetworkServer = (*ExactEvmScheme)(nil)

// ExactEvmScheme prices resources for the "exact" scheme on EIP-155 networks.
// Money prices resolve to the network's default USDC unless a registered
// money parser claims them first.
type ExactEvmScheme struct {
	moneyParsers x402.MoneyParserChain
}

func NewExactEvmScheme() *ExactEvmScheme {
	return &ExactEvmScheme{}
}

// RegisterMoneyParser adds a custom parser ahead of the default USDC conversion
func (s *ExactEvmScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactEvmScheme {
	s.moneyParsers.Register(parser)
	return s
}

func (s *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

func (s *ExactEvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return s.moneyParsers.ParsePrice(price, network, s.defaultMoneyConversion)
}

func (s *ExactEvmScheme) defaultMoneyConversion(amount decimal.Decimal, network x402.Network) (x402.AssetAmount, error) {
	config, err := evm.GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	asset := config.DefaultAsset
	tokenAmount, err := x402.ConvertToTokenAmount(amount.String(), asset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	return x402.AssetAmount{
		Amount: tokenAmount,
		Asset:  asset.Address,
		Extra: map[string]interface{}{
			"name":    asset.Name,
			"version": asset.Version,
		},
	}, nil
}

// EnhancePaymentRequirements checks that payTo and asset are EVM addresses and
// fills the EIP-712 domain name/version for the default asset when a custom
// parser left them out. Base fields are returned unchanged.
func (s *ExactEvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	facilitatorExtensions []string,
) (x402.PaymentRequirements, error) {
	if !evm.IsValidAddress(requirements.PayTo) {
		return requirements, x402.NewPaymentError(
			x402.ErrCodeInvalidRequirements,
			fmt.Sprintf("invalid payTo address: %s", requirements.PayTo),
			nil,
		)
	}
	if !evm.IsValidAddress(requirements.Asset) {
		return requirements, x402.NewPaymentError(
			x402.ErrCodeInvalidRequirements,
			fmt.Sprintf("invalid asset address: %s", requirements.Asset),
			nil,
		)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}
	if info, err := evm.GetAssetInfo(string(requirements.Network), requirements.Asset); err == nil {
		if _, ok := requirements.Extra["name"]; !ok {
			requirements.Extra["name"] = info.Name
		}
		if _, ok := requirements.Extra["version"]; !ok {
			requirements.Extra["version"] = info.Version
		}
	}

	// Copy facilitator-declared extension values the facilitator also advertises
	for _, key := range facilitatorExtensions {
		if val, ok := supportedKind.Extra[key]; ok {
			requirements.Extra[key] = val
		}
	}

	return requirements, nil
}
